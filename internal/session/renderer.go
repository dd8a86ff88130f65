package session

import (
	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/rtc"
)

// Renderer receives remote media as peers come and go. Implementations
// must not block; they are called from the session's event loop.
type Renderer interface {
	StreamAdded(p protocol.Participant, stream *rtc.RemoteStream)
	StreamRemoved(participantID string)
}

type nopRenderer struct{}

func (nopRenderer) StreamAdded(protocol.Participant, *rtc.RemoteStream) {}
func (nopRenderer) StreamRemoved(string)                                {}
