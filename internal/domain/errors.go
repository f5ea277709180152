package domain

import "errors"

var (
	// ErrQuestionSetNotFound indicates the question bank has no such set.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrQuestionSetEmpty rejects starting an attempt against an empty set.
	ErrQuestionSetEmpty = errors.New("question set has no questions")
	// ErrInvalidMode rejects an unknown session mode.
	ErrInvalidMode = errors.New("invalid session mode")

	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotInProgress rejects learner actions outside InProgress.
	ErrSessionNotInProgress = errors.New("session is not in progress")
	// ErrAnswerLocked rejects re-answering a question the mode has locked.
	ErrAnswerLocked = errors.New("answer already recorded for this question")
	// ErrInvalidOption rejects an option index outside the question's options.
	ErrInvalidOption = errors.New("option index out of range")

	// ErrResultNotBuffered is returned when a buffered record id is unknown.
	ErrResultNotBuffered = errors.New("result not present in local buffer")

	// ErrRoomUnknown means no room with that id ever existed here (retry is
	// pointless; the caller should redirect).
	ErrRoomUnknown = errors.New("room unknown")
	// ErrRoomClosed means the room existed but the host has ended it.
	ErrRoomClosed = errors.New("room closed")
	// ErrRoomNotJoinable rejects joins once a room is past Open/Active.
	ErrRoomNotJoinable = errors.New("room is not accepting participants")
	// ErrNotHost rejects host-only operations from participants.
	ErrNotHost = errors.New("operation restricted to the room host")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNoQuestionInFlight rejects answers while no window is open.
	ErrNoQuestionInFlight = errors.New("no question in flight")
	// ErrQuestionInFlight rejects starting a question while one is open.
	ErrQuestionInFlight = errors.New("question already in flight")
	// ErrAnswerWindowClosed rejects answers after the window deadline.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrDuplicateAnswer rejects a second answer for the same round.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
	// ErrNoMoreQuestions means the room exhausted its question set.
	ErrNoMoreQuestions = errors.New("no more questions in set")
)
