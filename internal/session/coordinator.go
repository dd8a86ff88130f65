package session

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/media"
	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/rtc"
	"github.com/meshcall/meshcall/internal/signaling"
)

// TransportFactory builds one transport per peer link.
type TransportFactory interface {
	NewTransport() (rtc.Transport, error)
}

// coordinator maintains the full mesh for one room: one link per
// remote participant. The joiner always offers to the members it finds
// in the roster snapshot, and existing members wait for the newcomer's
// offer, so no pair ever races to offer to each other.
//
// The mutex only guards the maps. Transport and link operations run
// outside it, so a slow negotiation never blocks other peers' events.
type coordinator struct {
	roomID     string
	local      protocol.Participant
	channel    signaling.Channel
	transports TransportFactory
	tracks     []media.Track
	renderer   Renderer
	logger     *logrus.Logger

	mu      sync.Mutex
	roster  map[string]protocol.Participant
	links   map[string]*rtc.Link
	leaving bool
}

func newCoordinator(roomID string, local protocol.Participant, channel signaling.Channel,
	transports TransportFactory, tracks []media.Track, renderer Renderer, logger *logrus.Logger) *coordinator {
	return &coordinator{
		roomID:     roomID,
		local:      local,
		channel:    channel,
		transports: transports,
		tracks:     tracks,
		renderer:   renderer,
		logger:     logger,
		roster:     make(map[string]protocol.Participant),
		links:      make(map[string]*rtc.Link),
	}
}

// OnRosterSnapshot offers to every member already in the room.
func (c *coordinator) OnRosterSnapshot(ctx context.Context, roster []protocol.Participant) {
	for _, p := range roster {
		if p.ID == c.local.ID {
			continue
		}
		if err := c.offerTo(ctx, p); err != nil {
			c.logger.Warnf("offering to %s: %v", p.ID, err)
		}
	}
}

// OnParticipantJoined records the newcomer. The newcomer offers to us,
// so no link is created here.
func (c *coordinator) OnParticipantJoined(p protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaving {
		return
	}
	c.roster[p.ID] = p
	c.logger.Infof("%s (%s) joined the room", p.DisplayName, p.ID)
}

func (c *coordinator) OnParticipantLeft(participantID string) {
	c.mu.Lock()
	link := c.links[participantID]
	delete(c.links, participantID)
	delete(c.roster, participantID)
	c.mu.Unlock()

	if link == nil {
		return
	}
	link.Close()
	c.renderer.StreamRemoved(participantID)
	c.logger.Infof("%s left the room", participantID)
}

func (c *coordinator) OnSignal(ctx context.Context, env *protocol.Envelope) {
	if env.Signal == nil || env.From == "" {
		c.logger.Warnf("dropping malformed signal envelope")
		return
	}

	switch env.Signal.Type {
	case protocol.SignalOffer:
		c.handleOffer(ctx, env)
	case protocol.SignalAnswer:
		c.handleAnswer(ctx, env)
	case protocol.SignalICE:
		c.handleCandidate(env)
	default:
		c.logger.Warnf("unknown signal type %q from %s", env.Signal.Type, env.From)
	}
}

// offerTo runs the initiating side of a link. The link is only
// inserted after creation succeeds, and rechecked under the lock in
// case a leave or duplicate slipped in between.
func (c *coordinator) offerTo(ctx context.Context, p protocol.Participant) error {
	c.mu.Lock()
	if c.leaving {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.links[p.ID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.roster[p.ID] = p
	c.mu.Unlock()

	link, err := c.createLink(p)
	if err != nil {
		return err
	}

	if !c.insertLink(p.ID, link) {
		link.Close()
		return nil
	}

	offer, err := link.StartOffer(ctx)
	if err != nil {
		c.dropLink(p.ID, link)
		return err
	}

	if err := c.channel.Send(ctx, protocol.BuildOfferMessage(p.ID, offer.SDP)); err != nil {
		c.dropLink(p.ID, link)
		return err
	}
	link.MarkDispatched()
	return nil
}

// handleOffer runs the answering side. Every legitimate offer is
// preceded by the sender's announcement (roster snapshot or join
// event), so an offer from a sender not in the roster is stale: most
// likely in flight when its participant departed. Answering it would
// resurrect a closed link.
func (c *coordinator) handleOffer(ctx context.Context, env *protocol.Envelope) {
	c.mu.Lock()
	if c.leaving {
		c.mu.Unlock()
		return
	}
	remote, known := c.roster[env.From]
	if !known {
		c.mu.Unlock()
		c.logger.Warnf("offer from %s, not in the room, ignoring", env.From)
		return
	}
	if _, ok := c.links[env.From]; ok {
		c.mu.Unlock()
		c.logger.Warnf("duplicate offer from %s, ignoring", env.From)
		return
	}
	c.mu.Unlock()

	link, err := c.createLink(remote)
	if err != nil {
		c.logger.Warnf("creating link for %s: %v", env.From, err)
		return
	}

	if !c.insertLink(env.From, link) {
		link.Close()
		return
	}

	answer, err := link.HandleOffer(ctx, env.Signal.SDP)
	if err != nil {
		c.logger.Warnf("answering offer from %s: %v", env.From, err)
		c.dropLink(env.From, link)
		return
	}

	if err := c.channel.Send(ctx, protocol.BuildAnswerMessage(env.From, answer.SDP)); err != nil {
		c.logger.Warnf("delivering answer to %s: %v", env.From, err)
		c.dropLink(env.From, link)
		return
	}
	link.MarkDispatched()
}

func (c *coordinator) handleAnswer(ctx context.Context, env *protocol.Envelope) {
	link := c.lookupLink(env.From)
	if link == nil {
		c.logger.Warnf("answer from %s for unknown link, ignoring", env.From)
		return
	}
	if err := link.HandleAnswer(ctx, env.Signal.SDP); err != nil {
		c.logger.Warnf("applying answer from %s: %v", env.From, err)
	}
}

func (c *coordinator) handleCandidate(env *protocol.Envelope) {
	if env.Signal.Candidate == nil {
		c.logger.Warnf("dropping malformed signal envelope")
		return
	}
	link := c.lookupLink(env.From)
	if link == nil {
		c.logger.Warnf("candidate from %s for unknown link, ignoring", env.From)
		return
	}
	if err := link.AddRemoteCandidate(candidateFromWire(*env.Signal.Candidate)); err != nil {
		c.logger.Warnf("applying candidate from %s: %v", env.From, err)
	}
}

// Leave tears down every link. The leaving flag is set before any
// close so that concurrently arriving signals cannot create new links.
func (c *coordinator) Leave() {
	c.mu.Lock()
	c.leaving = true
	links := c.links
	c.links = make(map[string]*rtc.Link)
	c.roster = make(map[string]protocol.Participant)
	c.mu.Unlock()

	for id, link := range links {
		link.Close()
		c.renderer.StreamRemoved(id)
	}
}

func (c *coordinator) createLink(p protocol.Participant) (*rtc.Link, error) {
	transport, err := c.transports.NewTransport()
	if err != nil {
		return nil, err
	}

	link, err := rtc.NewLink(p, transport, c.tracks)
	if err != nil {
		transport.Close()
		return nil, err
	}

	link.OnLocalCandidate(func(candidate webrtc.ICECandidateInit) {
		c.forwardCandidate(p.ID, candidate)
	})

	var announce sync.Once
	link.OnTrack(func(*webrtc.TrackRemote) {
		announce.Do(func() {
			c.renderer.StreamAdded(p, link.Stream())
		})
	})

	return link, nil
}

func (c *coordinator) forwardCandidate(to string, candidate webrtc.ICECandidateInit) {
	msg := protocol.BuildICECandidateMessage(to, candidateToWire(candidate))
	if err := c.channel.Send(context.Background(), msg); err != nil {
		c.logger.Warnf("delivering candidate to %s: %v", to, err)
	}
}

func (c *coordinator) insertLink(id string, link *rtc.Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaving {
		return false
	}
	if _, ok := c.links[id]; ok {
		return false
	}
	c.links[id] = link
	return true
}

func (c *coordinator) dropLink(id string, link *rtc.Link) {
	c.mu.Lock()
	if c.links[id] == link {
		delete(c.links, id)
	}
	c.mu.Unlock()
	link.Close()
}

func (c *coordinator) lookupLink(id string) *rtc.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[id]
}

func (c *coordinator) peerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

func candidateToWire(c webrtc.ICECandidateInit) protocol.ICECandidate {
	wire := protocol.ICECandidate{Candidate: c.Candidate}
	if c.SDPMid != nil {
		wire.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		wire.SDPMLineIndex = *c.SDPMLineIndex
	}
	return wire
}

func candidateFromWire(c protocol.ICECandidate) webrtc.ICECandidateInit {
	mid := c.SDPMid
	index := c.SDPMLineIndex
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}
