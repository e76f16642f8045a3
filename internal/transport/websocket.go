package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	inboundBuffer  = 64
	outboundBuffer = 64
)

// WSTransport is the websocket implementation of Transport. One goroutine
// reads, one writes; Emit may be called from any goroutine.
type WSTransport struct {
	log      *slog.Logger
	conn     *websocket.Conn
	inbound  chan domain.Signal
	outbound chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// Dial connects to the relay websocket endpoint and starts the pumps.
func Dial(ctx context.Context, url string, log *slog.Logger) (*WSTransport, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &WSTransport{
		log:      log,
		conn:     conn,
		inbound:  make(chan domain.Signal, inboundBuffer),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}

	go t.readPump()
	go t.writePump()

	return t, nil
}

func (t *WSTransport) Emit(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	// Checked up front: the racing select below may otherwise pick the
	// buffered send over the closed done channel and swallow the frame.
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	select {
	case t.outbound <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) Inbound() <-chan domain.Signal {
	return t.inbound
}

func (t *WSTransport) Close() error {
	t.stop()
	return nil
}

func (t *WSTransport) stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = t.conn.Close()
	})
}

func (t *WSTransport) readPump() {
	defer func() {
		t.stop()
		close(t.inbound)
	}()

	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("signaling read failed", sl.Err(err))
			}
			return
		}

		var sig domain.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			// Malformed frames are dropped; one bad message must not kill
			// the channel.
			t.log.Warn("dropping undecodable signal", sl.Err(err))
			continue
		}

		select {
		case t.inbound <- sig:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.stop()
	}()

	for {
		select {
		case data := <-t.outbound:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Warn("signaling write failed", sl.Err(err))
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}
