package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/meshcall/meshcall/internal/media"
	"github.com/meshcall/meshcall/internal/protocol"
)

// LinkState is the negotiation state of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkOfferReceived
	LinkAnswerSent
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "NEW"
	case LinkOfferSent:
		return "OFFER_SENT"
	case LinkOfferReceived:
		return "OFFER_RECEIVED"
	case LinkAnswerSent:
		return "ANSWER_SENT"
	case LinkConnected:
		return "CONNECTED"
	case LinkClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrLinkClosed       = errors.New("peer link closed")
	ErrUnexpectedOffer  = errors.New("offer received on a link already negotiating")
	ErrUnexpectedAnswer = errors.New("answer received with no offer in flight")
)

// Link wraps one transport plus negotiation state for exactly one remote
// participant. Negotiation methods are driven from a single dispatch
// goroutine; transport callbacks may fire concurrently.
//
// Connected is optimistic: a local/remote description pair is treated as
// sufficient to surface the remote stream, without waiting for media to
// flow. The offering side reaches it on answer receipt, the answering side
// on the transport's connected event.
type Link struct {
	remote    protocol.Participant
	transport Transport
	stream    *RemoteStream

	mu            sync.Mutex
	state         LinkState
	remoteDescSet bool
	// Remote candidates that arrived before the remote description,
	// flushed FIFO once it is applied. Never dropped.
	pendingRemote []webrtc.ICECandidateInit
	// Locally gathered candidates held until the offer or answer envelope
	// has been handed to the signaling channel.
	pendingLocal     []webrtc.ICECandidateInit
	dispatched       bool
	onLocalCandidate func(webrtc.ICECandidateInit)
	onTrack          func(*webrtc.TrackRemote)
}

// NewLink creates a link over transport and attaches the shared local
// tracks.
func NewLink(remote protocol.Participant, transport Transport, locals []media.Track) (*Link, error) {
	l := &Link{
		remote:    remote,
		transport: transport,
		stream:    newRemoteStream(remote.ID),
		state:     LinkNew,
	}

	for _, t := range locals {
		if err := transport.AddTrack(t.Local()); err != nil {
			return nil, fmt.Errorf("attaching local track: %w", err)
		}
	}

	transport.OnICECandidate(l.handleLocalCandidate)
	transport.OnTrack(l.handleRemoteTrack)
	transport.OnConnected(l.handleConnected)

	return l, nil
}

func (l *Link) Remote() protocol.Participant { return l.remote }

func (l *Link) Stream() *RemoteStream { return l.stream }

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnLocalCandidate registers the forwarder for locally gathered candidates.
// Register before negotiation starts.
func (l *Link) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	l.onLocalCandidate = fn
	l.mu.Unlock()
}

// OnTrack registers the remote track arrival callback. Tracks are appended
// to the remote stream regardless of negotiation state.
func (l *Link) OnTrack(fn func(*webrtc.TrackRemote)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

// StartOffer creates and applies the local offer. The caller sends the
// returned description over signaling and then calls MarkDispatched so the
// offer precedes every candidate of this link on the wire.
func (l *Link) StartOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	if l.state != LinkNew {
		state := l.state
		l.mu.Unlock()
		return webrtc.SessionDescription{}, fmt.Errorf("cannot offer in state %s", state)
	}
	l.mu.Unlock()

	offer, err := l.transport.CreateOffer(ctx)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.transport.SetLocalDescription(ctx, offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	l.mu.Lock()
	l.state = LinkOfferSent
	l.mu.Unlock()
	return offer, nil
}

// HandleOffer answers a remote offer: remote description, then a local
// answer. The caller sends the returned answer and calls MarkDispatched.
func (l *Link) HandleOffer(ctx context.Context, sdp string) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	if l.state != LinkNew {
		state := l.state
		l.mu.Unlock()
		return webrtc.SessionDescription{}, fmt.Errorf("%w: state %s", ErrUnexpectedOffer, state)
	}
	l.state = LinkOfferReceived
	l.mu.Unlock()

	if err := l.applyRemoteDescription(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := l.transport.CreateAnswer(ctx)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.transport.SetLocalDescription(ctx, answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	l.mu.Lock()
	l.state = LinkAnswerSent
	l.mu.Unlock()
	return answer, nil
}

// HandleAnswer completes the offering side of the exchange.
func (l *Link) HandleAnswer(ctx context.Context, sdp string) error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if l.state != LinkOfferSent {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrUnexpectedAnswer, state)
	}
	l.mu.Unlock()

	if err := l.applyRemoteDescription(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return err
	}

	l.mu.Lock()
	l.state = LinkConnected
	l.mu.Unlock()
	return nil
}

// MarkDispatched reports that this link's offer or answer was handed to
// the signaling channel. Candidates queued in the meantime flush in
// gathering order.
func (l *Link) MarkDispatched() {
	l.mu.Lock()
	l.dispatched = true
	queued := l.pendingLocal
	l.pendingLocal = nil
	fn := l.onLocalCandidate
	l.mu.Unlock()

	if fn == nil {
		return
	}
	for _, c := range queued {
		fn(c)
	}
}

// AddRemoteCandidate applies a remote candidate, buffering it if the
// remote description is not set yet.
func (l *Link) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if !l.remoteDescSet {
		l.pendingRemote = append(l.pendingRemote, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.transport.AddICECandidate(candidate)
}

// Close tears the link down. Terminal and idempotent; transport close
// failures are swallowed since the link is being discarded anyway.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.mu.Unlock()

	l.stream.close()
	_ = l.transport.Close()
}

func (l *Link) applyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(ctx, desc); err != nil {
		return err
	}

	l.mu.Lock()
	l.remoteDescSet = true
	queued := l.pendingRemote
	l.pendingRemote = nil
	l.mu.Unlock()

	for _, c := range queued {
		if err := l.transport.AddICECandidate(c); err != nil {
			return fmt.Errorf("applying buffered candidate: %w", err)
		}
	}
	return nil
}

func (l *Link) handleLocalCandidate(candidate webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	if !l.dispatched {
		l.pendingLocal = append(l.pendingLocal, candidate)
		l.mu.Unlock()
		return
	}
	fn := l.onLocalCandidate
	l.mu.Unlock()

	if fn != nil {
		fn(candidate)
	}
}

func (l *Link) handleRemoteTrack(track *webrtc.TrackRemote) {
	l.stream.addTrack(track)

	l.mu.Lock()
	fn := l.onTrack
	l.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (l *Link) handleConnected() {
	l.mu.Lock()
	if l.state == LinkAnswerSent {
		l.state = LinkConnected
	}
	l.mu.Unlock()
}
