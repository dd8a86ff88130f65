package signaling

import (
	"context"
	"errors"

	"github.com/meshcall/meshcall/internal/protocol"
)

var ErrChannelClosed = errors.New("signaling channel closed")

// Channel carries signaling envelopes between this node and the
// signaling server. Messages is closed when the underlying connection
// goes away, whatever the reason.
type Channel interface {
	Send(ctx context.Context, msg *protocol.Envelope) error
	Messages() <-chan *protocol.Envelope
	Close() error
}
