package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session code is unknown or already closed.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrSessionClosed is returned when acting on a session after it was torn down.
	ErrSessionClosed = errors.New("live session closed")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNoQuestions is returned when starting a session whose quiz has no questions.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrInvalidPhase is returned when a host action is not valid in the current phase.
	ErrInvalidPhase = errors.New("action not valid in current phase")
	// ErrNotJoined is returned when a participant client acts before joining.
	ErrNotJoined = errors.New("participant has not joined")
	// ErrAnswerWindowClosed is returned client-side when no answer can be accepted.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrInvalidOption indicates a submitted option index is out of range.
	ErrInvalidOption = errors.New("option not found")
	// ErrUnknownMessage is returned when decoding an envelope with an unknown kind.
	ErrUnknownMessage = errors.New("unknown message kind")
)
