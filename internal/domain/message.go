package domain

import "time"

// Kind tags a message on the wire.
type Kind string

const (
	KindJoin       Kind = "join"
	KindAnswer     Kind = "answer"
	KindSnapshot   Kind = "sessionSnapshot"
	KindDisconnect Kind = "disconnect"
	KindHeartbeat  Kind = "heartbeat"
)

// Message is the unit of bus traffic. The set of variants is closed.
type Message interface {
	Kind() Kind
}

// Join is published by a participant to enter a session. Repeating it is harmless.
type Join struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

// Answer reports correctness and latency for one question. The host computes the award.
type Answer struct {
	ParticipantID string `json:"participantId"`
	QuestionIndex int    `json:"questionIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	LatencyMs     int64  `json:"latencyMs"`
}

// Heartbeat keeps a participant marked as connected.
type Heartbeat struct {
	ParticipantID string `json:"participantId"`
}

// Snapshot is the complete authoritative state pushed by the host after every mutation.
// Participants replace their local view with the snapshot carrying the highest Seq.
type Snapshot struct {
	Code           string            `json:"code"`
	Seq            uint64            `json:"seq"`
	Phase          Phase             `json:"phase"`
	QuestionIndex  int               `json:"questionIndex"`
	TotalQuestions int               `json:"totalQuestions"`
	Deadline       time.Time         `json:"deadline"`
	WindowMs       int64             `json:"windowMs"`
	RoundClosed    bool              `json:"roundClosed"`
	Question       *QuestionView     `json:"question,omitempty"`
	Participants   []ParticipantView `json:"participants"`
}

// Disconnect is the host's terminal message for a session.
type Disconnect struct{}

func (Join) Kind() Kind       { return KindJoin }
func (Answer) Kind() Kind     { return KindAnswer }
func (Heartbeat) Kind() Kind  { return KindHeartbeat }
func (Snapshot) Kind() Kind   { return KindSnapshot }
func (Disconnect) Kind() Kind { return KindDisconnect }

// Participant returns the view of the given participant, if present.
func (s Snapshot) Participant(id string) (ParticipantView, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return ParticipantView{}, false
}

// Ranking converts the snapshot's ordered participants into ranking entries.
func (s Snapshot) Ranking() []RankingEntry {
	out := make([]RankingEntry, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, RankingEntry{
			Rank:          p.Rank,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
		})
	}
	return out
}
