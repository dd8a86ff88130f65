package signalserver

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/store"
)

// historyLimit caps how many chat lines a joiner gets replayed.
const historyLimit = 50

type inboundEnvelope struct {
	client *client
	env    *protocol.Envelope
}

// Hub owns all room state. A single Run goroutine consumes the
// register, unregister and inbound channels, so room maps are never
// touched concurrently.
type Hub struct {
	logger   *logrus.Logger
	messages *store.MessageStore

	register   chan *client
	unregister chan *client
	inbound    chan *inboundEnvelope

	// rooms keeps members in join order so roster snapshots list
	// longer-lived participants first.
	rooms map[string][]*client
}

// NewHub creates a hub. messages may be nil, in which case chat lines
// are relayed but not persisted.
func NewHub(logger *logrus.Logger, messages *store.MessageStore) *Hub {
	return &Hub{
		logger:     logger,
		messages:   messages,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan *inboundEnvelope),
		rooms:      make(map[string][]*client),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.logger.Debugf("client connected: %s", c.conn.RemoteAddr())

		case c := <-h.unregister:
			h.removeClient(c)
			close(c.send)

		case in := <-h.inbound:
			h.handleEnvelope(in.client, in.env)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleEnvelope(c *client, env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindJoinRoom:
		h.handleJoin(c, env)
	case protocol.KindSignal:
		h.relaySignal(c, env)
	case protocol.KindChatMessage:
		h.handleChat(c, env)
	default:
		h.logger.Warnf("unknown message kind %q from %s", env.Kind, c.id)
	}
}

func (h *Hub) handleJoin(c *client, env *protocol.Envelope) {
	if c.roomID != "" {
		c.deliver(protocol.BuildErrorMessage(c.id, "already in a room"))
		return
	}
	if env.Room == "" || env.Participant == nil {
		c.deliver(protocol.BuildErrorMessage(c.id, "malformed join request"))
		return
	}

	c.id = env.Participant.ID
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.name = env.Participant.DisplayName
	c.roomID = env.Room

	members := h.rooms[c.roomID]

	roster := make([]protocol.Participant, 0, len(members))
	for _, m := range members {
		roster = append(roster, protocol.Participant{ID: m.id, DisplayName: m.name})
	}
	c.deliver(protocol.BuildRosterMessage(c.id, roster))

	joined := protocol.BuildNewParticipantMessage(protocol.Participant{ID: c.id, DisplayName: c.name})
	for _, m := range members {
		m.deliver(joined)
	}

	h.rooms[c.roomID] = append(members, c)
	h.logger.Infof("participant %s (%s) joined room %s, %d members", c.id, c.name, c.roomID, len(members)+1)

	h.replayHistory(c)
}

func (h *Hub) replayHistory(c *client) {
	if h.messages == nil {
		return
	}

	history, err := h.messages.RecentMessages(c.roomID, historyLimit)
	if err != nil {
		h.logger.Warnf("loading chat history for room %s: %v", c.roomID, err)
		return
	}

	for _, m := range history {
		c.deliver(protocol.BuildChatMessage(c.roomID, protocol.Chat{
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Text:       m.Text,
			SentAt:     m.CreatedAt,
		}))
	}
}

// relaySignal forwards an offer, answer or candidate to its addressee,
// stamping the sender so the recipient knows which link it belongs to.
func (h *Hub) relaySignal(c *client, env *protocol.Envelope) {
	if c.roomID == "" || env.To == "" || env.Signal == nil {
		h.logger.Warnf("dropping malformed signal from %s", c.id)
		return
	}

	target := h.findMember(c.roomID, env.To)
	if target == nil {
		h.logger.Warnf("signal target %s not in room %s", env.To, c.roomID)
		return
	}

	env.From = c.id
	env.Room = c.roomID
	target.deliver(env)
}

func (h *Hub) handleChat(c *client, env *protocol.Envelope) {
	if c.roomID == "" || env.Chat == nil {
		return
	}

	chat := *env.Chat
	chat.SenderID = c.id
	chat.SenderName = c.name

	if h.messages != nil {
		err := h.messages.SaveMessage(&store.Message{
			RoomID:     c.roomID,
			SenderID:   chat.SenderID,
			SenderName: chat.SenderName,
			Text:       chat.Text,
			CreatedAt:  chat.SentAt,
		})
		if err != nil {
			h.logger.Warnf("persisting chat message: %v", err)
		}
	}

	out := protocol.BuildChatMessage(c.roomID, chat)
	for _, m := range h.rooms[c.roomID] {
		m.deliver(out)
	}
}

func (h *Hub) removeClient(c *client) {
	if c.roomID == "" {
		return
	}

	members := h.rooms[c.roomID]
	for i, m := range members {
		if m == c {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}

	if len(members) == 0 {
		delete(h.rooms, c.roomID)
		h.logger.Infof("room %s deleted", c.roomID)
		return
	}

	h.rooms[c.roomID] = members
	left := protocol.BuildParticipantLeftMessage(c.id)
	for _, m := range members {
		m.deliver(left)
	}
	h.logger.Infof("participant %s left room %s, %d members remain", c.id, c.roomID, len(members))
}

func (h *Hub) findMember(roomID, id string) *client {
	for _, m := range h.rooms[roomID] {
		if m.id == id {
			return m
		}
	}
	return nil
}
