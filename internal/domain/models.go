package domain

import "time"

// Phase is the lifecycle stage of a live session.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseQuestion    Phase = "question"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

// Status is a participant's standing within the current round.
type Status string

const (
	StatusJoined   Status = "joined"
	StatusAnswered Status = "answered"
	// StatusLocked means the answer window closed before the participant answered.
	StatusLocked Status = "locked"
)

// Terminal reports whether the status can no longer change this round.
func (s Status) Terminal() bool {
	return s == StatusAnswered || s == StatusLocked
}

// Participant represents a joined student and their accumulated score.
type Participant struct {
	ID                string
	DisplayName       string
	Score             int
	Status            Status
	LastAnswerCorrect *bool
	Connected         bool
	JoinedAt          time.Time
	LastSeen          time.Time
}

// ParticipantView is the snapshot-friendly, ranked view of a participant.
type ParticipantView struct {
	ID                string `json:"participantId"`
	DisplayName       string `json:"displayName"`
	Score             int    `json:"score"`
	Status            Status `json:"status"`
	LastAnswerCorrect *bool  `json:"lastAnswerCorrect"`
	Connected         bool   `json:"connected"`
	Rank              int    `json:"rank"`
}

// Question models a multiple choice question supplied by the content provider.
type Question struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Quiz is an ordered collection of questions. It is never mutated by a session.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// QuestionView is what participants see of the active question.
// CorrectIndex and Explanation are only populated once the round is over.
type QuestionView struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// RankingEntry is one line of the final ranking handed to downstream consumers.
type RankingEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
}

// Result is emitted once a session reaches the finished phase.
type Result struct {
	Code       string         `json:"code"`
	QuizID     string         `json:"quizId"`
	FinishedAt time.Time      `json:"finishedAt"`
	Ranking    []RankingEntry `json:"ranking"`
}
