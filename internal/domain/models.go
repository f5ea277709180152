package domain

import "time"

// Mode selects how a single-learner session behaves.
type Mode string

const (
	// ModeLearning gives immediate feedback and auto-advances after each answer.
	ModeLearning Mode = "learning"
	// ModeTest is untimed with free navigation; answers may be changed.
	ModeTest Mode = "test"
	// ModeExam runs against a fixed time budget and auto-submits on expiry.
	ModeExam Mode = "exam"
)

// Valid reports whether m is one of the known session modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLearning, ModeTest, ModeExam:
		return true
	}
	return false
}

// SessionState tracks the lifecycle of a single attempt.
type SessionState string

const (
	SessionConfiguring SessionState = "configuring"
	SessionInProgress  SessionState = "in_progress"
	SessionCompleted   SessionState = "completed"
	// SessionExpired is the terminal state reached when an exam runs out of time.
	SessionExpired SessionState = "expired"
)

// Question is an immutable MCQ owned by the question bank; read-only here.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Explanation   string   `json:"explanation,omitempty"`
	Category      string   `json:"category,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
}

// QuestionSet is the ordered question list a session or room runs against.
type QuestionSet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// AnswerRecord captures one learner selection. A nil SelectedOption means the
// question was skipped; skipped questions count toward the total, never as wrong.
type AnswerRecord struct {
	QuestionID       string `json:"questionId"`
	SelectedOption   *int   `json:"selectedOption"`
	IsCorrect        bool   `json:"isCorrect"`
	AnsweredAtOffset int    `json:"answeredAtOffsetSeconds"`
}

// Skipped reports whether the record denotes an unanswered question.
func (a AnswerRecord) Skipped() bool {
	return a.SelectedOption == nil
}

// QuizResult is the durable outcome of a completed session. ResultID is a
// client-generated idempotency key: retried submissions never duplicate.
type QuizResult struct {
	ResultID       string         `json:"resultId"`
	LearnerID      string         `json:"learnerId"`
	Mode           Mode           `json:"mode"`
	CorrectCount   int            `json:"correctCount"`
	TotalQuestions int            `json:"totalQuestions"`
	Percentage     int            `json:"percentage"`
	ElapsedSeconds int            `json:"elapsedSeconds"`
	Expired        bool           `json:"expired,omitempty"`
	Answers        []AnswerRecord `json:"answers"`
	CategoryScores map[string]int `json:"categoryScores,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

// BufferedRecord is a QuizResult waiting in the local write buffer for the
// remote store to confirm it.
type BufferedRecord struct {
	Result        QuizResult `json:"result"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt time.Time  `json:"lastAttemptAt"`
}

// Provenance marks which sources fed a result set.
type Provenance string

const (
	// ProvenanceLive means the remote store answered; buffered records are merged in.
	ProvenanceLive Provenance = "live"
	// ProvenanceDegraded means only locally buffered records were visible.
	ProvenanceDegraded Provenance = "degraded"
)

// LeaderboardRow is derived per learner on each aggregation request; it is
// never persisted.
type LeaderboardRow struct {
	LearnerID             string  `json:"learnerId"`
	DisplayName           string  `json:"displayName"`
	Attempts              int     `json:"attempts"`
	AveragePercentage     float64 `json:"averagePercentage"`
	BestPercentage        int     `json:"bestPercentage"`
	AverageElapsedSeconds float64 `json:"averageElapsedSeconds"`
	Rank                  int     `json:"rank"`
}

// RoomPhase tracks the lifecycle of a competition room.
type RoomPhase string

const (
	RoomOpen    RoomPhase = "open"
	RoomActive  RoomPhase = "active"
	RoomScoring RoomPhase = "scoring"
	RoomClosed  RoomPhase = "closed"
)

// Participant is one member of a competition room.
type Participant struct {
	LearnerID   string    `json:"learnerId"`
	DisplayName string    `json:"displayName"`
	Points      int       `json:"points"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ScoreboardEntry is a snapshot-friendly view of a participant.
type ScoreboardEntry struct {
	LearnerID   string `json:"learnerId"`
	DisplayName string `json:"displayName"`
	Points      int    `json:"points"`
}

// Scoreboard is an idempotent snapshot broadcast to room subscribers.
// Consumers must treat repeated snapshots as replacements, not deltas.
type Scoreboard struct {
	RoomID    string            `json:"roomId"`
	Phase     RoomPhase         `json:"phase"`
	Round     int               `json:"round"`
	Entries   []ScoreboardEntry `json:"entries"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// RoundResult reports one participant's outcome for a single room question.
type RoundResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}
