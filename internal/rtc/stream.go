package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// RemoteStream accumulates the tracks a remote participant sends us.
// Append-only until the owning link closes; arrivals after close are
// dropped.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
	closed bool
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

// ID is the remote participant's identity.
func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.tracks = append(s.tracks, track)
}

func (s *RemoteStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
