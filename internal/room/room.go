// Package room coordinates live multi-participant competitions. Each room is
// one unit of shared state mutated only by its own event loop: public methods
// post closures onto an unbuffered event channel, so concurrent submissions
// are linearized without room-wide locks. Scoreboard reads are idempotent
// snapshots broadcast from the latest linearized state.
package room

import (
	"log/slog"
	"sort"
	"time"

	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/scoring"
)

// DefaultWindow is the answer-collection window when the host does not pick one.
const DefaultWindow = 30 * time.Second

// Config carries everything a room needs at open time.
type Config struct {
	RoomID   string
	HostID   string
	HostName string
	Set      domain.QuestionSet
	Clock    clock.Clock
	Logger   *slog.Logger
	// OnClosed fires once, after the room reaches Closed, from the room's
	// own event loop.
	OnClosed func(roomID string)
}

// QuestionView is the broadcast form of a question: no correct option.
type QuestionView struct {
	Index    int       `json:"index"`
	ID       string    `json:"id"`
	Prompt   string    `json:"prompt"`
	Options  []string  `json:"options"`
	Deadline time.Time `json:"deadline"`
}

// Room owns one live competition.
type Room struct {
	id     string
	hostID string
	clk    clock.Clock
	logger *slog.Logger

	events chan func()
	done   chan struct{}

	// everything below is touched only from the event loop
	phase        domain.RoomPhase
	set          domain.QuestionSet
	next         int
	round        int
	current      *domain.Question
	currentIdx   int
	deadline     time.Time
	cancelWindow func()
	answered     map[string]bool
	participants map[string]*domain.Participant
	subscribers  map[chan domain.Scoreboard]struct{}
	onClosed     func(string)
}

// New opens a room with the host already joined. The room goroutine runs
// until the host ends it or the question set is exhausted.
func New(cfg Config) (*Room, error) {
	if len(cfg.Set.Questions) == 0 {
		return nil, domain.ErrQuestionSetEmpty
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Wall{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Room{
		id:           cfg.RoomID,
		hostID:       cfg.HostID,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		events:       make(chan func()),
		done:         make(chan struct{}),
		phase:        domain.RoomOpen,
		set:          cfg.Set,
		answered:     make(map[string]bool),
		participants: make(map[string]*domain.Participant),
		subscribers:  make(map[chan domain.Scoreboard]struct{}),
		onClosed:     cfg.OnClosed,
	}
	r.participants[cfg.HostID] = &domain.Participant{
		LearnerID:   cfg.HostID,
		DisplayName: cfg.HostName,
		JoinedAt:    r.clk.Now(),
	}
	go r.run()
	return r, nil
}

func (r *Room) ID() string     { return r.id }
func (r *Room) HostID() string { return r.hostID }

func (r *Room) run() {
	for {
		select {
		case fn := <-r.events:
			fn()
			if r.phase == domain.RoomClosed {
				r.drain()
				return
			}
		case <-r.done:
			r.drain()
			return
		}
	}
}

// drain answers any callers that committed a send before done closed; they
// observe the Closed phase. The events channel is unbuffered, so once drain
// returns no sender can ever commit again.
func (r *Room) drain() {
	for {
		select {
		case fn := <-r.events:
			fn()
		default:
			return
		}
	}
}

// do runs fn on the event loop, or reports ErrRoomClosed for ended rooms.
func (r *Room) do(fn func()) error {
	select {
	case r.events <- fn:
		return nil
	case <-r.done:
		return domain.ErrRoomClosed
	}
}

// Join adds a participant while the room is Open or Active. Rejoining
// refreshes the display name and keeps accumulated points.
func (r *Room) Join(learnerID, displayName string) (domain.Scoreboard, error) {
	type resp struct {
		sb  domain.Scoreboard
		err error
	}
	ch := make(chan resp, 1)
	if err := r.do(func() {
		if r.phase != domain.RoomOpen && r.phase != domain.RoomActive {
			ch <- resp{err: r.rejectionError()}
			return
		}
		if p, ok := r.participants[learnerID]; ok {
			p.DisplayName = displayName
		} else {
			r.participants[learnerID] = &domain.Participant{
				LearnerID:   learnerID,
				DisplayName: displayName,
				JoinedAt:    r.clk.Now(),
			}
		}
		ch <- resp{sb: r.broadcast()}
	}); err != nil {
		return domain.Scoreboard{}, err
	}
	out := <-ch
	return out.sb, out.err
}

// Leave removes a participant from future scoring; no coordination with the
// other participants is needed. A host leaving closes the room. Returns only
// after the event loop has applied the removal, so callers observe the effect.
func (r *Room) Leave(learnerID string) {
	ack := make(chan struct{})
	if r.do(func() {
		defer close(ack)
		if _, ok := r.participants[learnerID]; !ok {
			return
		}
		delete(r.participants, learnerID)
		delete(r.answered, learnerID)
		if learnerID == r.hostID || len(r.participants) == 0 {
			r.closeRoom()
			return
		}
		r.broadcast()
	}) != nil {
		return
	}
	<-ack
}

// StartQuestion broadcasts the next question and opens an answer window.
// Host only; valid while the room is Open (waiting or between rounds).
func (r *Room) StartQuestion(callerID string, window time.Duration) (QuestionView, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	type resp struct {
		view QuestionView
		err  error
	}
	ch := make(chan resp, 1)
	if err := r.do(func() {
		switch {
		case r.phase == domain.RoomClosed:
			ch <- resp{err: domain.ErrRoomClosed}
			return
		case callerID != r.hostID:
			ch <- resp{err: domain.ErrNotHost}
			return
		case r.phase == domain.RoomActive:
			ch <- resp{err: domain.ErrQuestionInFlight}
			return
		case r.next >= len(r.set.Questions):
			ch <- resp{err: domain.ErrNoMoreQuestions}
			return
		}

		question := r.set.Questions[r.next]
		r.current = &question
		r.currentIdx = r.next
		r.next++
		r.round++
		r.answered = make(map[string]bool)
		r.deadline = r.clk.Now().Add(window)
		r.phase = domain.RoomActive

		round := r.round
		r.cancelWindow = r.clk.After(window, func() {
			// wait for the loop to process the expiry so the timer owner
			// (wall goroutine or test clock) observes a settled room
			processed := make(chan struct{})
			if r.do(func() { r.expireWindow(round); close(processed) }) == nil {
				<-processed
			}
		})

		r.broadcast()
		ch <- resp{view: QuestionView{
			Index:    r.currentIdx,
			ID:       question.ID,
			Prompt:   question.Prompt,
			Options:  question.Options,
			Deadline: r.deadline,
		}}
	}); err != nil {
		return QuestionView{}, err
	}
	out := <-ch
	return out.view, out.err
}

// SubmitAnswer scores one participant's answer against the in-flight
// question. Accepted once per participant per round and only before the
// deadline; later or duplicate submissions are rejected without corrupting
// room state.
func (r *Room) SubmitAnswer(learnerID string, option int) (domain.RoundResult, error) {
	type resp struct {
		result domain.RoundResult
		err    error
	}
	ch := make(chan resp, 1)
	if err := r.do(func() {
		if r.phase == domain.RoomClosed {
			ch <- resp{err: domain.ErrRoomClosed}
			return
		}
		participant, ok := r.participants[learnerID]
		if !ok {
			ch <- resp{err: domain.ErrParticipantNotFound}
			return
		}
		if r.phase != domain.RoomActive || r.current == nil {
			ch <- resp{err: domain.ErrNoQuestionInFlight}
			return
		}
		if r.clk.Now().After(r.deadline) {
			ch <- resp{err: domain.ErrAnswerWindowClosed}
			return
		}
		if r.answered[learnerID] {
			ch <- resp{err: domain.ErrDuplicateAnswer}
			return
		}

		r.answered[learnerID] = true
		correct := scoring.Correct(*r.current, option)
		awarded := 0
		if correct {
			awarded = scoring.PointsPerCorrect
			participant.Points += awarded
		}
		r.broadcast()
		ch <- resp{result: domain.RoundResult{
			QuestionID: r.current.ID,
			Correct:    correct,
			Awarded:    awarded,
			TotalScore: participant.Points,
		}}
	}); err != nil {
		return domain.RoundResult{}, err
	}
	out := <-ch
	return out.result, out.err
}

// expireWindow finalizes a round. Stale timers (from an earlier round) no-op.
func (r *Room) expireWindow(round int) {
	if r.phase != domain.RoomActive || r.round != round {
		return
	}
	r.phase = domain.RoomScoring
	r.current = nil
	r.broadcast()

	if r.next >= len(r.set.Questions) {
		r.closeRoom()
		return
	}
	// back to the lobby phase until the host starts the next round
	r.phase = domain.RoomOpen
	r.broadcast()
}

// End closes the room. Host only; terminal.
func (r *Room) End(callerID string) error {
	ch := make(chan error, 1)
	if err := r.do(func() {
		if callerID != r.hostID {
			ch <- domain.ErrNotHost
			return
		}
		r.closeRoom()
		ch <- nil
	}); err != nil {
		return err
	}
	return <-ch
}

func (r *Room) closeRoom() {
	if r.phase == domain.RoomClosed {
		return
	}
	if r.cancelWindow != nil {
		r.cancelWindow()
		r.cancelWindow = nil
	}
	r.phase = domain.RoomClosed
	r.current = nil
	r.broadcast()
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	close(r.done)
	if r.onClosed != nil {
		r.onClosed(r.id)
	}
	r.logger.Info("room closed", "room_id", r.id, "rounds", r.round)
}

// Subscribe returns a channel of scoreboard snapshots, starting with the
// current one. The caller must invoke cancel to avoid leaks; the channel is
// closed when the room ends.
func (r *Room) Subscribe() (<-chan domain.Scoreboard, func(), error) {
	ch := make(chan domain.Scoreboard, 8)
	if err := r.do(func() {
		r.subscribers[ch] = struct{}{}
		ch <- r.snapshot()
	}); err != nil {
		return nil, nil, err
	}
	cancel := func() {
		_ = r.do(func() {
			if _, ok := r.subscribers[ch]; ok {
				delete(r.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// CurrentQuestion returns the in-flight question view, for participants who
// join (or reconnect) mid-round.
func (r *Room) CurrentQuestion() (QuestionView, error) {
	type resp struct {
		view QuestionView
		err  error
	}
	ch := make(chan resp, 1)
	if err := r.do(func() {
		if r.phase != domain.RoomActive || r.current == nil {
			ch <- resp{err: domain.ErrNoQuestionInFlight}
			return
		}
		ch <- resp{view: QuestionView{
			Index:    r.currentIdx,
			ID:       r.current.ID,
			Prompt:   r.current.Prompt,
			Options:  r.current.Options,
			Deadline: r.deadline,
		}}
	}); err != nil {
		return QuestionView{}, err
	}
	out := <-ch
	return out.view, out.err
}

// Scoreboard returns the latest linearized snapshot.
func (r *Room) Scoreboard() (domain.Scoreboard, error) {
	ch := make(chan domain.Scoreboard, 1)
	if err := r.do(func() { ch <- r.snapshot() }); err != nil {
		return domain.Scoreboard{}, err
	}
	return <-ch, nil
}

// Phase reports the room lifecycle phase.
func (r *Room) Phase() domain.RoomPhase {
	ch := make(chan domain.RoomPhase, 1)
	if err := r.do(func() { ch <- r.phase }); err != nil {
		return domain.RoomClosed
	}
	return <-ch
}

func (r *Room) rejectionError() error {
	if r.phase == domain.RoomClosed {
		return domain.ErrRoomClosed
	}
	return domain.ErrRoomNotJoinable
}

// broadcast pushes the latest snapshot to every subscriber, dropping a stale
// snapshot when a slow consumer's channel is full.
func (r *Room) broadcast() domain.Scoreboard {
	sb := r.snapshot()
	for ch := range r.subscribers {
		select {
		case ch <- sb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- sb
		}
	}
	return sb
}

func (r *Room) snapshot() domain.Scoreboard {
	entries := make([]domain.ScoreboardEntry, 0, len(r.participants))
	for _, p := range r.participants {
		entries = append(entries, domain.ScoreboardEntry{
			LearnerID:   p.LearnerID,
			DisplayName: p.DisplayName,
			Points:      p.Points,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		pi, pj := r.participants[entries[i].LearnerID], r.participants[entries[j].LearnerID]
		if pi != nil && pj != nil && !pi.JoinedAt.Equal(pj.JoinedAt) {
			return pi.JoinedAt.Before(pj.JoinedAt)
		}
		return entries[i].LearnerID < entries[j].LearnerID
	})
	return domain.Scoreboard{
		RoomID:    r.id,
		Phase:     r.phase,
		Round:     r.round,
		Entries:   entries,
		UpdatedAt: r.clk.Now(),
	}
}
