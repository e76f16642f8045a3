package transport

import (
	"context"
	"errors"

	"github.com/iabtm/rtc-core/internal/domain"
)

var ErrClosed = errors.New("transport closed")

// Transport is the session-control channel to the signaling relay.
// Delivery is at-least-once and ordered per connection; nothing is
// guaranteed across reconnects. Inbound messages arrive on a single
// channel drained by one consumer, in arrival order. The channel is
// closed when the underlying connection dies, which the session treats
// as connection loss.
type Transport interface {
	Emit(ctx context.Context, sig domain.Signal) error
	Inbound() <-chan domain.Signal
	Close() error
}
