// Package protocol defines the messages exchanged over the signaling channel.
package protocol

// Kind identifies a signaling envelope.
type Kind string

const (
	KindJoinRoom        Kind = "join-room"
	KindAllParticipants Kind = "all-participants"
	KindNewParticipant  Kind = "new-participant"
	KindSignal          Kind = "signal"
	KindParticipantLeft Kind = "participant-left"
	KindChatMessage     Kind = "chat-message"
	KindError           Kind = "error"
)

func (k Kind) String() string { return string(k) }

// SignalType distinguishes the payloads carried by a signal envelope.
type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
)

// Participant is a room member's identity as supplied by the roster.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// ICECandidate carries one piece of connectivity information between peers.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Signal is the payload of a signal envelope: SDP for offers and answers,
// Candidate for ice.
type Signal struct {
	Type      SignalType    `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// Chat is one room chat message.
type Chat struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	SentAt     int64  `json:"sentAt"`
}

// Envelope is the single wire frame carried over the signaling channel.
// From is stamped by the server on relayed messages; an empty To addresses
// the whole room.
type Envelope struct {
	Kind        Kind          `json:"kind"`
	Room        string        `json:"room,omitempty"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	Participant *Participant  `json:"participant,omitempty"`
	Roster      []Participant `json:"roster,omitempty"`
	Signal      *Signal       `json:"signal,omitempty"`
	Chat        *Chat         `json:"chat,omitempty"`
	Error       string        `json:"error,omitempty"`
}
