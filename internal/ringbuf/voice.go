package ringbuf

const (
	DefaultVoiceWindow      = 10
	DefaultSpeakThreshold   = 0.10
	DefaultSilenceThreshold = 0.05
)

// VoiceActivity keeps a rolling window of audio levels and classifies the
// local user as speaking or silent. The gap between the two thresholds is
// deliberate hysteresis: levels hovering around a single cutoff would flap.
type VoiceActivity struct {
	ring             *Ring[float64]
	window           int
	speakThreshold   float64
	silenceThreshold float64
}

func NewVoiceActivity(window int, speakThreshold, silenceThreshold float64) *VoiceActivity {
	if window <= 0 {
		window = DefaultVoiceWindow
	}
	if speakThreshold <= 0 {
		speakThreshold = DefaultSpeakThreshold
	}
	if silenceThreshold <= 0 {
		silenceThreshold = DefaultSilenceThreshold
	}
	return &VoiceActivity{
		ring:             NewRing[float64](window),
		window:           window,
		speakThreshold:   speakThreshold,
		silenceThreshold: silenceThreshold,
	}
}

// Push records one level sample, dropping the oldest once the window is full.
func (v *VoiceActivity) Push(level float64) {
	if v.ring.IsFull() {
		v.ring.Dequeue()
	}
	v.ring.Enqueue(level)
}

// IsSpeaking reports a full window averaging at or above the speak
// threshold. A partially filled window never counts as speaking.
func (v *VoiceActivity) IsSpeaking() bool {
	if v.ring.Len() < v.window {
		return false
	}
	return v.average() >= v.speakThreshold
}

// IsSilent reports a full window averaging below the silence threshold.
// With too few samples neither classification fires.
func (v *VoiceActivity) IsSilent() bool {
	if v.ring.Len() < v.window {
		return false
	}
	return v.average() < v.silenceThreshold
}

func (v *VoiceActivity) average() float64 {
	levels := v.ring.ToSlice()
	if len(levels) == 0 {
		return 0
	}
	var sum float64
	for _, l := range levels {
		sum += l
	}
	return sum / float64(len(levels))
}

func (v *VoiceActivity) Clear() {
	v.ring.Clear()
}
