package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// TrackKind is the media type of a capture track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is one local capture track. It is shared read-only across every
// peer link that attaches it; only the owning Source stops it.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Local() webrtc.TrackLocal
	Stop() error
}

type localTrack struct {
	id    string
	kind  TrackKind
	local webrtc.TrackLocal
	stop  func() error

	mu      sync.Mutex
	enabled bool
}

// NewTrack wraps a webrtc local track with a mute flag. stop releases the
// underlying capture and may be nil.
func NewTrack(id string, kind TrackKind, local webrtc.TrackLocal, stop func() error) Track {
	return &localTrack{
		id:      id,
		kind:    kind,
		local:   local,
		stop:    stop,
		enabled: true,
	}
}

func (t *localTrack) ID() string { return t.id }

func (t *localTrack) Kind() TrackKind { return t.kind }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled mutes or unmutes the track without renegotiation.
func (t *localTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *localTrack) Local() webrtc.TrackLocal { return t.local }

func (t *localTrack) Stop() error {
	if t.stop == nil {
		return nil
	}
	return t.stop()
}
