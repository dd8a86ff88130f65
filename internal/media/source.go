// Package media acquires and owns the local audio/video capture.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDeviceUnavailable reports that capture hardware could not be
	// opened. Fatal to a join attempt; never retried here.
	ErrDeviceUnavailable = errors.New("media device unavailable")

	// ErrReleased reports use of a source after Release without a fresh
	// Acquire.
	ErrReleased = errors.New("media source released")
)

// Stream groups the tracks of one acquisition.
type Stream struct {
	id     string
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) stop() {
	for _, t := range s.tracks {
		_ = t.Stop()
	}
}

// Opener performs the actual device capture. It is called once per
// acquisition; the source caches the result.
type Opener func(ctx context.Context) (*Stream, error)

// Source owns the local capture stream. Acquire is idempotent while the
// stream is live; Release stops every track exactly once. Every peer link
// attaches the same stream.
type Source struct {
	open Opener

	mu       sync.Mutex
	stream   *Stream
	released bool
}

func NewSource(open Opener) *Source {
	return &Source{open: open}
}

// Acquire returns the capture stream, opening the devices on first use.
// After Release it opens a fresh stream.
func (s *Source) Acquire(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil && !s.released {
		return s.stream, nil
	}

	stream, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.stream = stream
	s.released = false
	return stream, nil
}

// SetTrackEnabled mutes or unmutes every track of the given kind. Muting
// does not renegotiate and does not stop the track.
func (s *Source) SetTrackEnabled(kind TrackKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || s.stream == nil {
		return ErrReleased
	}
	for _, t := range s.stream.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
	return nil
}

// Release stops all tracks. Idempotent; any other method afterwards fails
// with ErrReleased until a fresh Acquire.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil && !s.released {
		s.stream.stop()
	}
	s.stream = nil
	s.released = true
}
