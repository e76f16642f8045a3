package ringbuf

// AudioBuffer accumulates captured audio chunks and serves them back in
// exact-length reads. A chunk split by a read keeps its remainder at the
// front of the queue, so sample order is never disturbed.
type AudioBuffer struct {
	ring    *Ring[[]float32]
	carry   []float32
	samples int
}

func NewAudioBuffer(capacity int) *AudioBuffer {
	return &AudioBuffer{ring: NewRing[[]float32](capacity)}
}

// Write buffers one captured chunk. It reports false and drops the chunk
// when the buffer is full.
func (b *AudioBuffer) Write(chunk []float32) bool {
	if len(chunk) == 0 {
		return true
	}
	if !b.ring.Enqueue(chunk) {
		return false
	}
	b.samples += len(chunk)
	return true
}

// ReadSamples drains up to n samples in FIFO order. It returns exactly n
// samples when enough are buffered, otherwise everything available; it
// never over-delivers.
func (b *AudioBuffer) ReadSamples(n int) []float32 {
	if n <= 0 {
		return nil
	}

	out := make([]float32, 0, n)

	if len(b.carry) > 0 {
		take := min(n, len(b.carry))
		out = append(out, b.carry[:take]...)
		b.carry = b.carry[take:]
		b.samples -= take
	}

	for len(out) < n {
		chunk, ok := b.ring.Dequeue()
		if !ok {
			break
		}
		need := n - len(out)
		if len(chunk) > need {
			out = append(out, chunk[:need]...)
			b.carry = chunk[need:]
			b.samples -= need
			return out
		}
		out = append(out, chunk...)
		b.samples -= len(chunk)
	}

	return out
}

// BufferedSamples reports how many samples ReadSamples could deliver.
func (b *AudioBuffer) BufferedSamples() int { return b.samples }

// MostlyFull mirrors the underlying ring's backpressure hint.
func (b *AudioBuffer) MostlyFull(pct float64) bool { return b.ring.MostlyFull(pct) }

func (b *AudioBuffer) Clear() {
	b.ring.Clear()
	b.carry = nil
	b.samples = 0
}
