package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
)

const videoBitRate = 500_000

// DeviceOptions selects which capture devices to open.
type DeviceOptions struct {
	Audio bool
	Video bool
}

var (
	selectorOnce sync.Once
	selector     *mediadevices.CodecSelector
	selectorErr  error
)

// codecSelector is shared between capture and codec registration so the
// encoders the tracks produce match what the media engine negotiates.
func codecSelector() (*mediadevices.CodecSelector, error) {
	selectorOnce.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			selectorErr = fmt.Errorf("creating VP8 params: %w", err)
			return
		}
		vpxParams.BitRate = videoBitRate

		opusParams, err := opus.NewParams()
		if err != nil {
			selectorErr = fmt.Errorf("creating opus params: %w", err)
			return
		}

		selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return selector, selectorErr
}

// RegisterCodecs populates a media engine with the encoders device tracks
// are produced with. Peer connections must be built from the same engine.
func RegisterCodecs(engine *webrtc.MediaEngine) error {
	sel, err := codecSelector()
	if err != nil {
		return err
	}
	sel.Populate(engine)
	return nil
}

// NewDeviceSource returns a Source backed by the host camera and microphone.
func NewDeviceSource(opts DeviceOptions) *Source {
	return NewSource(func(ctx context.Context) (*Stream, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.Audio && !opts.Video {
			return nil, fmt.Errorf("%w: audio and video capture both disabled", ErrDeviceUnavailable)
		}

		sel, err := codecSelector()
		if err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: sel}
		if opts.Video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameRate = prop.Float(30)
			}
		}
		if opts.Audio {
			constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {}
		}

		captured, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}

		tracks := make([]Track, 0, len(captured.GetTracks()))
		for _, t := range captured.GetTracks() {
			t := t
			kind := TrackKindAudio
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				kind = TrackKindVideo
			}
			tracks = append(tracks, NewTrack(t.ID(), kind, t, t.Close))
		}
		return NewStream(tracks...), nil
	})
}
