package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/media"
	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/signaling"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	case StateLeaving:
		return "LEAVING"
	}
	return "UNKNOWN"
}

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
)

type Config struct {
	Local      protocol.Participant
	Channel    signaling.Channel
	Transports TransportFactory
	Media      *media.Source
	Renderer   Renderer
	OnChat     func(protocol.Chat)
	Logger     *logrus.Logger
}

// Session drives one room membership at a time: acquire media, join,
// maintain the mesh, leave. Join and Leave are safe to call from any
// goroutine.
type Session struct {
	local    protocol.Participant
	channel  signaling.Channel
	factory  TransportFactory
	media    *media.Source
	renderer Renderer
	onChat   func(protocol.Chat)
	logger   *logrus.Logger

	mu     sync.Mutex
	state  State
	roomID string
	coord  *coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Session {
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = nopRenderer{}
	}
	return &Session{
		local:    cfg.Local,
		channel:  cfg.Channel,
		factory:  cfg.Transports,
		media:    cfg.Media,
		renderer: renderer,
		onChat:   cfg.OnChat,
		logger:   cfg.Logger,
		state:    StateIdle,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peers reports how many peer links are currently tracked.
func (s *Session) Peers() int {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return 0
	}
	return coord.peerCount()
}

// Join acquires local media and enters roomID. On any failure the
// session unwinds back to idle.
func (s *Session) Join(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyInRoom
	}
	s.state = StateJoining
	s.mu.Unlock()

	stream, err := s.media.Acquire(ctx)
	if err != nil {
		s.setIdle()
		return fmt.Errorf("acquiring local media: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	coord := newCoordinator(roomID, s.local, s.channel, s.factory, stream.Tracks(), s.renderer, s.logger)
	done := make(chan struct{})

	s.mu.Lock()
	s.roomID = roomID
	s.coord = coord
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	join := protocol.BuildJoinRoomMessage(roomID, s.local)
	if err := s.channel.Send(ctx, join); err != nil {
		cancel()
		s.media.Release()
		s.setIdle()
		return fmt.Errorf("joining room: %w", err)
	}

	go s.run(runCtx, done)

	s.logger.Infof("joining room %s as %s", roomID, s.local.ID)
	return nil
}

// Leave tears down the mesh, the signaling channel and local media.
// Leaving an idle session is a no-op.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeaving {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	coord := s.coord
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if coord != nil {
		coord.Leave()
	}

	// The server notices the disconnect and announces our departure.
	if err := s.channel.Close(); err != nil {
		s.logger.Debugf("closing signaling channel: %v", err)
	}

	if done != nil {
		<-done
	}

	s.media.Release()

	s.mu.Lock()
	s.state = StateIdle
	s.roomID = ""
	s.coord = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Infof("left the room")
	return nil
}

// SendChat broadcasts a chat line to the room.
func (s *Session) SendChat(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	roomID := s.roomID
	s.mu.Unlock()

	chat := protocol.Chat{Text: text, SentAt: time.Now().Unix()}
	return s.channel.Send(ctx, protocol.BuildChatMessage(roomID, chat))
}

// SetTrackEnabled mutes or unmutes local capture of the given kind
// without renegotiating any link.
func (s *Session) SetTrackEnabled(kind media.TrackKind, enabled bool) error {
	return s.media.SetTrackEnabled(kind, enabled)
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case env, ok := <-s.channel.Messages():
			if !ok {
				s.mu.Lock()
				leaving := s.state == StateLeaving
				s.mu.Unlock()
				if !leaving {
					s.logger.Warnf("signaling connection closed")
				}
				return
			}
			s.dispatch(ctx, env)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, env *protocol.Envelope) {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return
	}

	switch env.Kind {
	case protocol.KindAllParticipants:
		s.mu.Lock()
		if s.state == StateJoining {
			s.state = StateActive
		}
		s.mu.Unlock()
		coord.OnRosterSnapshot(ctx, env.Roster)

	case protocol.KindNewParticipant:
		if env.Participant != nil {
			coord.OnParticipantJoined(*env.Participant)
		}

	case protocol.KindSignal:
		coord.OnSignal(ctx, env)

	case protocol.KindParticipantLeft:
		if env.Participant != nil {
			coord.OnParticipantLeft(env.Participant.ID)
		}

	case protocol.KindChatMessage:
		if env.Chat != nil && s.onChat != nil {
			s.onChat(*env.Chat)
		}

	case protocol.KindError:
		s.logger.Warnf("server error: %s", env.Error)

	default:
		s.logger.Warnf("unknown message kind %q", env.Kind)
	}
}

func (s *Session) setIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.coord = nil
	s.cancel = nil
	s.done = nil
	s.roomID = ""
	s.mu.Unlock()
}
