package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/media"
	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/rtc"
	"github.com/meshcall/meshcall/internal/signaling"
)

type fakeChannel struct {
	mu        sync.Mutex
	sent      []*protocol.Envelope
	sendErr   error
	incoming  chan *protocol.Envelope
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{incoming: make(chan *protocol.Envelope, 32)}
}

func (f *fakeChannel) Send(ctx context.Context, msg *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Messages() <-chan *protocol.Envelope { return f.incoming }

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.incoming) })
	return nil
}

func (f *fakeChannel) sentOfKind(kind protocol.Kind) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range f.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// waitForSent polls until pred over sent envelopes holds.
func (f *fakeChannel) waitForSent(t *testing.T, pred func([]*protocol.Envelope) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		ok := pred(f.sent)
		f.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for outbound envelope")
}

type fakeTransport struct {
	mu         sync.Mutex
	remoteDesc *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote)
	closed     bool
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error { return nil }

func (f *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetLocalDescription(context.Context, webrtc.SessionDescription) error {
	return nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &desc
	return nil
}

func (f *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, candidate)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote))           { f.onTrack = fn }
func (f *fakeTransport) OnConnected(func())                             {}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
}

func (f *fakeFactory) NewTransport() (rtc.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTransport{}
	f.created = append(f.created, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

type recordingRenderer struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (r *recordingRenderer) StreamAdded(p protocol.Participant, _ *rtc.RemoteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, p.ID)
}

func (r *recordingRenderer) StreamRemoved(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *recordingRenderer) removedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.removed))
	copy(out, r.removed)
	return out
}

type fixture struct {
	session  *Session
	channel  *fakeChannel
	factory  *fakeFactory
	renderer *recordingRenderer
	source   *media.Source
	logger   *logrus.Logger
	chats    chan protocol.Chat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	f := &fixture{
		channel:  newFakeChannel(),
		factory:  &fakeFactory{},
		renderer: &recordingRenderer{},
		logger:   logger,
		chats:    make(chan protocol.Chat, 8),
	}

	f.source = media.NewSource(func(context.Context) (*media.Stream, error) {
		return media.NewStream(), nil
	})

	f.session = New(Config{
		Local:      protocol.Participant{ID: "self", DisplayName: "Self"},
		Channel:    f.channel,
		Transports: f.factory,
		Media:      f.source,
		Renderer:   f.renderer,
		OnChat:     func(c protocol.Chat) { f.chats <- c },
		Logger:     logger,
	})
	return f
}

// joinActive joins and feeds a roster snapshot so the session lands in
// the active state.
func (f *fixture) joinActive(t *testing.T, roster ...protocol.Participant) {
	t.Helper()

	if err := f.session.Join(context.Background(), "room1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	f.channel.incoming <- protocol.BuildRosterMessage("self", roster)

	deadline := time.Now().Add(2 * time.Second)
	for f.session.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatal("session never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJoinSendsJoinRoom(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Join(context.Background(), "room1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	joins := f.channel.sentOfKind(protocol.KindJoinRoom)
	if len(joins) != 1 {
		t.Fatalf("expected 1 join-room, got %d", len(joins))
	}
	if joins[0].Room != "room1" || joins[0].Participant.ID != "self" {
		t.Errorf("join envelope wrong: %+v", joins[0])
	}
	if f.session.State() != StateJoining {
		t.Errorf("expected JOINING, got %s", f.session.State())
	}
}

func TestJoinWhileJoinedFails(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	err := f.session.Join(context.Background(), "room2")
	if !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestJoinMediaFailureUnwindsToIdle(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	source := media.NewSource(func(context.Context) (*media.Stream, error) {
		return nil, media.ErrDeviceUnavailable
	})
	s := New(Config{
		Local:   protocol.Participant{ID: "self"},
		Channel: newFakeChannel(),
		Media:   source,
		Logger:  logger,
	})

	err := s.Join(context.Background(), "room1")
	if !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected IDLE after failed join, got %s", s.State())
	}
}

func TestRosterSnapshotOffersToEveryMember(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t,
		protocol.Participant{ID: "alice"},
		protocol.Participant{ID: "bob"},
	)

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		offers := 0
		for _, env := range sent {
			if env.Kind == protocol.KindSignal && env.Signal.Type == protocol.SignalOffer {
				offers++
			}
		}
		return offers == 2
	})

	if f.factory.count() != 2 {
		t.Errorf("expected 2 transports, got %d", f.factory.count())
	}
	if f.session.Peers() != 2 {
		t.Errorf("expected 2 peers, got %d", f.session.Peers())
	}
}

func TestRosterSnapshotSkipsSelf(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t,
		protocol.Participant{ID: "self"},
		protocol.Participant{ID: "alice"},
	)

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		return len(offersTo(sent, "alice")) == 1
	})

	if offers := offersTo(f.channel.sentOfKind(protocol.KindSignal), "self"); len(offers) != 0 {
		t.Errorf("offered to self: %v", offers)
	}
}

func offersTo(envs []*protocol.Envelope, to string) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range envs {
		if env.Kind == protocol.KindSignal && env.Signal != nil &&
			env.Signal.Type == protocol.SignalOffer && env.To == to {
			out = append(out, env)
		}
	}
	return out
}

func TestNewParticipantWaitsForTheirOffer(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	f.channel.incoming <- protocol.BuildNewParticipantMessage(protocol.Participant{ID: "carol"})

	// Give the event loop a moment; no offer may go out.
	time.Sleep(50 * time.Millisecond)
	if offers := offersTo(f.channel.sentOfKind(protocol.KindSignal), "carol"); len(offers) != 0 {
		t.Fatalf("offered to newcomer instead of waiting: %v", offers)
	}

	// The newcomer's offer creates the link on our side.
	offer := protocol.BuildOfferMessage("self", "v=0 carol-offer")
	offer.From = "carol"
	f.channel.incoming <- offer

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		for _, env := range sent {
			if env.Kind == protocol.KindSignal && env.Signal.Type == protocol.SignalAnswer && env.To == "carol" {
				return true
			}
		}
		return false
	})

	if f.session.Peers() != 1 {
		t.Errorf("expected 1 peer after answering, got %d", f.session.Peers())
	}
}

func TestOfferAfterParticipantLeftIgnored(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	f.channel.incoming <- protocol.BuildNewParticipantMessage(protocol.Participant{ID: "carol"})
	f.channel.incoming <- protocol.BuildParticipantLeftMessage("carol")

	// An offer already in flight when carol left must not bring the
	// link back.
	offer := protocol.BuildOfferMessage("self", "v=0 carol-offer")
	offer.From = "carol"
	f.channel.incoming <- offer

	time.Sleep(50 * time.Millisecond)
	if f.session.Peers() != 0 {
		t.Errorf("offer from departed participant created a link: %d peers", f.session.Peers())
	}
	if f.factory.count() != 0 {
		t.Errorf("transport created for departed participant: %d", f.factory.count())
	}
	if sent := f.channel.sentOfKind(protocol.KindSignal); len(sent) != 0 {
		t.Errorf("answered a departed participant: %v", sent)
	}
}

func TestStaleSignalsIgnored(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	answer := protocol.BuildAnswerMessage("self", "v=0 stale")
	answer.From = "ghost"
	f.channel.incoming <- answer

	ice := protocol.BuildICECandidateMessage("self", protocol.ICECandidate{Candidate: "candidate-0"})
	ice.From = "ghost"
	f.channel.incoming <- ice

	time.Sleep(50 * time.Millisecond)
	if f.session.Peers() != 0 {
		t.Errorf("stale signals created links: %d peers", f.session.Peers())
	}
	if f.session.State() != StateActive {
		t.Errorf("stale signals disturbed session state: %s", f.session.State())
	}
}

func TestParticipantLeftClosesLink(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t, protocol.Participant{ID: "alice"})

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		return len(offersTo(sent, "alice")) == 1
	})

	f.channel.incoming <- protocol.BuildParticipantLeftMessage("alice")

	deadline := time.Now().Add(2 * time.Second)
	for f.session.Peers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("link never removed after departure")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !f.factory.transport(0).isClosed() {
		t.Error("expected transport closed after departure")
	}
	if removed := f.renderer.removedIDs(); len(removed) != 1 || removed[0] != "alice" {
		t.Errorf("expected StreamRemoved(alice), got %v", removed)
	}
}

func TestRemoteCandidateReachesLink(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t, protocol.Participant{ID: "alice"})

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		return len(offersTo(sent, "alice")) == 1
	})

	answer := protocol.BuildAnswerMessage("self", "v=0 alice-answer")
	answer.From = "alice"
	f.channel.incoming <- answer

	ice := protocol.BuildICECandidateMessage("self", protocol.ICECandidate{Candidate: "candidate-7"})
	ice.From = "alice"
	f.channel.incoming <- ice

	tr := f.factory.transport(0)
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.applied)
		tr.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("candidate never applied to transport")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalCandidatesSentAfterOffer(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t, protocol.Participant{ID: "alice"})

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		return len(offersTo(sent, "alice")) == 1
	})

	f.factory.transport(0).onICE(webrtc.ICECandidateInit{Candidate: "candidate-local"})

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		for _, env := range sent {
			if env.Kind == protocol.KindSignal && env.Signal.Type == protocol.SignalICE && env.To == "alice" {
				return true
			}
		}
		return false
	})

	// The offer must precede the candidate on the wire.
	signals := f.channel.sentOfKind(protocol.KindSignal)
	sawOffer := false
	for _, env := range signals {
		switch env.Signal.Type {
		case protocol.SignalOffer:
			sawOffer = true
		case protocol.SignalICE:
			if !sawOffer {
				t.Fatal("candidate sent before offer")
			}
		}
	}
}

func TestLeaveClosesEverything(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t, protocol.Participant{ID: "alice"}, protocol.Participant{ID: "bob"})

	f.channel.waitForSent(t, func(sent []*protocol.Envelope) bool {
		return len(offersTo(sent, "alice")) == 1 && len(offersTo(sent, "bob")) == 1
	})

	if err := f.session.Leave(); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	if f.session.State() != StateIdle {
		t.Errorf("expected IDLE after leave, got %s", f.session.State())
	}
	for i := 0; i < f.factory.count(); i++ {
		if !f.factory.transport(i).isClosed() {
			t.Errorf("transport %d left open", i)
		}
	}
	if removed := f.renderer.removedIDs(); len(removed) != 2 {
		t.Errorf("expected 2 StreamRemoved calls, got %v", removed)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	if err := f.session.Leave(); err != nil {
		t.Fatalf("first Leave failed: %v", err)
	}
	if err := f.session.Leave(); err != nil {
		t.Fatalf("second Leave failed: %v", err)
	}
	if f.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %s", f.session.State())
	}
}

func TestRejoinAfterLeave(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)
	if err := f.session.Leave(); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	// A new call means a new session over a freshly dialed channel; the
	// media source is reusable and opens a fresh stream.
	f.channel = newFakeChannel()
	f.session = New(Config{
		Local:      protocol.Participant{ID: "self", DisplayName: "Self"},
		Channel:    f.channel,
		Transports: f.factory,
		Media:      f.source,
		Renderer:   f.renderer,
		Logger:     f.logger,
	})

	f.joinActive(t)
	if f.session.State() != StateActive {
		t.Errorf("expected ACTIVE after rejoin, got %s", f.session.State())
	}
}

func TestSendChatRequiresActive(t *testing.T) {
	f := newFixture(t)

	err := f.session.SendChat(context.Background(), "hello")
	if !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}

	f.joinActive(t)
	if err := f.session.SendChat(context.Background(), "hello"); err != nil {
		t.Fatalf("SendChat failed: %v", err)
	}

	chats := f.channel.sentOfKind(protocol.KindChatMessage)
	if len(chats) != 1 || chats[0].Chat.Text != "hello" {
		t.Fatalf("chat envelope wrong: %+v", chats)
	}
}

func TestIncomingChatDelivered(t *testing.T) {
	f := newFixture(t)
	f.joinActive(t)

	f.channel.incoming <- protocol.BuildChatMessage("room1", protocol.Chat{
		SenderID: "alice", SenderName: "Alice", Text: "hi",
	})

	select {
	case chat := <-f.chats:
		if chat.SenderID != "alice" || chat.Text != "hi" {
			t.Errorf("chat mangled: %+v", chat)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat never delivered")
	}
}

var _ signaling.Channel = (*fakeChannel)(nil)
