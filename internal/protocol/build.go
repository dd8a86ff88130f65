package protocol

func BuildJoinRoomMessage(roomID string, local Participant) *Envelope {
	return &Envelope{
		Kind:        KindJoinRoom,
		Room:        roomID,
		Participant: &local,
	}
}

func BuildRosterMessage(to string, roster []Participant) *Envelope {
	return &Envelope{
		Kind:   KindAllParticipants,
		To:     to,
		Roster: roster,
	}
}

func BuildNewParticipantMessage(p Participant) *Envelope {
	return &Envelope{
		Kind:        KindNewParticipant,
		Participant: &p,
	}
}

func BuildOfferMessage(to, sdp string) *Envelope {
	return &Envelope{
		Kind:   KindSignal,
		To:     to,
		Signal: &Signal{Type: SignalOffer, SDP: sdp},
	}
}

func BuildAnswerMessage(to, sdp string) *Envelope {
	return &Envelope{
		Kind:   KindSignal,
		To:     to,
		Signal: &Signal{Type: SignalAnswer, SDP: sdp},
	}
}

func BuildICECandidateMessage(to string, candidate ICECandidate) *Envelope {
	return &Envelope{
		Kind:   KindSignal,
		To:     to,
		Signal: &Signal{Type: SignalICE, Candidate: &candidate},
	}
}

func BuildParticipantLeftMessage(participantID string) *Envelope {
	return &Envelope{
		Kind:        KindParticipantLeft,
		Participant: &Participant{ID: participantID},
	}
}

func BuildChatMessage(roomID string, chat Chat) *Envelope {
	return &Envelope{
		Kind: KindChatMessage,
		Room: roomID,
		Chat: &chat,
	}
}

func BuildErrorMessage(to, reason string) *Envelope {
	return &Envelope{
		Kind:  KindError,
		To:    to,
		Error: reason,
	}
}
