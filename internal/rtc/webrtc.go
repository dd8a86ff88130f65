package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Factory builds pion-backed transports sharing one API instance. register
// populates the media engine with the codecs local capture produces; nil
// falls back to pion's defaults.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(stunServers []string, register func(*webrtc.MediaEngine) error) (*Factory, error) {
	engine := &webrtc.MediaEngine{}
	if register != nil {
		if err := register(engine); err != nil {
			return nil, fmt.Errorf("registering codecs: %w", err)
		}
	} else {
		if err := engine.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("registering default codecs: %w", err)
		}
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(engine)),
		config: configuration(stunServers),
	}, nil
}

func (f *Factory) NewTransport() (Transport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionTransport{pc: pc}, nil
}

type pionTransport struct {
	pc *webrtc.PeerConnection
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	if _, err := t.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	return nil
}

func (t *pionTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return offer, nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return answer, nil
}

func (t *pionTransport) SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return nil
}

func (t *pionTransport) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (t *pionTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (t *pionTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (t *pionTransport) OnConnected(fn func()) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			fn()
		}
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
