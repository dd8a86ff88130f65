// Package rtc drives one media link per remote participant.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// Transport is the opaque media-link primitive a peer link drives. NAT
// traversal and media negotiation below the offer/answer surface are not
// this layer's concern.
type Transport interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// Callbacks must be registered before negotiation starts.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(*webrtc.TrackRemote))
	OnConnected(fn func())

	Close() error
}
