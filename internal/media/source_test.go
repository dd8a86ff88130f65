package media

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newFakeOpener() (*int, Opener) {
	calls := new(int)
	return calls, func(ctx context.Context) (*Stream, error) {
		*calls++
		return NewStream(
			NewTrack(fmt.Sprintf("audio-%d", *calls), TrackKindAudio, nil, nil),
			NewTrack(fmt.Sprintf("video-%d", *calls), TrackKindVideo, nil, nil),
		), nil
	}
}

func TestAcquireIdempotent(t *testing.T) {
	calls, open := newFakeOpener()
	src := NewSource(open)
	ctx := context.Background()

	first, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	second, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if first != second {
		t.Error("expected the same stream on repeat acquire")
	}
	if *calls != 1 {
		t.Errorf("expected 1 opener call, got %d", *calls)
	}
}

func TestAcquireDeviceError(t *testing.T) {
	src := NewSource(func(ctx context.Context) (*Stream, error) {
		return nil, fmt.Errorf("%w: no camera", ErrDeviceUnavailable)
	})

	_, err := src.Acquire(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestReleaseThenAcquireReturnsFreshStream(t *testing.T) {
	calls, open := newFakeOpener()
	src := NewSource(open)
	ctx := context.Background()

	first, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	src.Release()

	second, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	if first == second {
		t.Error("expected a fresh stream after release")
	}
	if first.ID() == second.ID() {
		t.Error("expected a new stream id after release")
	}
	if *calls != 2 {
		t.Errorf("expected 2 opener calls, got %d", *calls)
	}
}

func TestMethodsAfterReleaseFail(t *testing.T) {
	_, open := newFakeOpener()
	src := NewSource(open)

	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	src.Release()

	if err := src.SetTrackEnabled(TrackKindAudio, false); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}
}

func TestReleaseIdempotentStopsTracksOnce(t *testing.T) {
	stops := 0
	src := NewSource(func(ctx context.Context) (*Stream, error) {
		return NewStream(NewTrack("a", TrackKindAudio, nil, func() error {
			stops++
			return nil
		})), nil
	})

	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	src.Release()
	src.Release()

	if stops != 1 {
		t.Errorf("expected tracks stopped exactly once, got %d", stops)
	}
}

func TestSetTrackEnabledTogglesOnlyMatchingKind(t *testing.T) {
	_, open := newFakeOpener()
	src := NewSource(open)

	stream, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := src.SetTrackEnabled(TrackKindAudio, false); err != nil {
		t.Fatalf("SetTrackEnabled failed: %v", err)
	}

	for _, track := range stream.Tracks() {
		switch track.Kind() {
		case TrackKindAudio:
			if track.Enabled() {
				t.Error("expected audio track muted")
			}
		case TrackKindVideo:
			if !track.Enabled() {
				t.Error("expected video track untouched")
			}
		}
	}

	if err := src.SetTrackEnabled(TrackKindAudio, true); err != nil {
		t.Fatalf("SetTrackEnabled failed: %v", err)
	}
	for _, track := range stream.Tracks() {
		if track.Kind() == TrackKindAudio && !track.Enabled() {
			t.Error("expected audio track unmuted")
		}
	}
}
