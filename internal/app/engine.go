package app

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/event"
)

// QuestionBank supplies a random sample of questions for a subject.
type QuestionBank interface {
	SampleQuestions(ctx context.Context, subject string, limit int) ([]domain.Question, error)
}

// SessionStore persists the live session snapshot so an unclean exit can be
// recovered on the next start (in-memory, Redis, etc).
type SessionStore interface {
	// Load returns the stored snapshot for a subject, if any. A corrupted
	// record is reported as an error and treated by the engine as no orphan.
	Load(ctx context.Context, subject string) (domain.SessionSnapshot, bool, error)
	Save(ctx context.Context, snap domain.SessionSnapshot) error
	Clear(ctx context.Context, subject string) error
}

// ProgressStore persists results history, per-subject academic state, and the
// behavioral profile.
type ProgressStore interface {
	AppendResult(ctx context.Context, r domain.Result) error
	Results(ctx context.Context) ([]domain.Result, error)
	AcademicState(ctx context.Context, subject string) (domain.AcademicState, bool, error)
	PutAcademicState(ctx context.Context, st domain.AcademicState) error
	AcademicStates(ctx context.Context) ([]domain.AcademicState, error)
	Profile(ctx context.Context) (domain.BehavioralProfile, bool, error)
}

// EventKind discriminates engine broadcasts.
type EventKind string

const (
	// EventTick fires once per timer second with the remaining time.
	EventTick EventKind = "tick"
	// EventSession fires on every mutating session operation with the
	// operation name and full current state.
	EventSession EventKind = "session"
	// EventResult fires once when a session is submitted.
	EventResult EventKind = "result"
)

// SessionEvent is the payload delivered to engine subscribers.
type SessionEvent struct {
	Kind     EventKind                `json:"kind"`
	Op       string                   `json:"op,omitempty"`
	TimeLeft int                      `json:"timeLeft"`
	State    *domain.SessionSnapshot  `json:"state,omitempty"`
	Result   *domain.Result           `json:"result,omitempty"`
}

// Options tunes engine timing. Zero values select production defaults; tests
// shrink them for determinism.
type Options struct {
	SecondsPerQuestion int
	MaxQuestions       int
	TickInterval       time.Duration
	Clock              func() time.Time
	Rand               *rand.Rand
}

const (
	defaultSecondsPerQuestion = 120
	defaultMaxQuestions       = 15

	// Advancing within this window of first seeing a question counts as an
	// impulsive click.
	impulseThresholdMs = 1500
)

// Engine owns the single live quiz session: lifecycle, answer and navigation
// tracking, telemetry capture, scoring, and orphan recovery. All mutation goes
// through the engine; the timer goroutine is the only unsolicited mutator and
// it funnels through the same lock.
type Engine struct {
	bank     QuestionBank
	sessions SessionStore
	progress ProgressStore
	events   *event.Hub[SessionEvent]

	secondsPerQuestion int
	maxQuestions       int
	tickInterval       time.Duration
	now                func() time.Time
	rnd                *rand.Rand

	mu        sync.Mutex
	state     *session
	timerStop chan struct{}

	// persistCh serializes snapshot saves and clears on one goroutine so a
	// clear can never be overtaken by an older save.
	persistCh chan persistReq
}

type persistReq struct {
	snap         *domain.SessionSnapshot
	clearSubject string
}

// session is the in-memory live state. Answers and telemetry maps are keyed by
// question index; bookmarks by question ID.
type session struct {
	active        bool
	subject       string
	startedAt     time.Time
	totalDuration int
	timeLeft      int
	questions     []domain.Question
	answers       map[int]int
	bookmarks     map[string]struct{}
	currentIndex  int
	telemetry     domain.Telemetry
}

func NewEngine(bank QuestionBank, sessions SessionStore, progress ProgressStore, opts Options) *Engine {
	if opts.SecondsPerQuestion <= 0 {
		opts.SecondsPerQuestion = defaultSecondsPerQuestion
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = defaultMaxQuestions
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e := &Engine{
		bank:               bank,
		sessions:           sessions,
		progress:           progress,
		events:             event.NewHub[SessionEvent](),
		secondsPerQuestion: opts.SecondsPerQuestion,
		maxQuestions:       opts.MaxQuestions,
		tickInterval:       opts.TickInterval,
		now:                opts.Clock,
		rnd:                opts.Rand,
		persistCh:          make(chan persistReq, 64),
	}
	go e.persistLoop()
	return e
}

// persistLoop applies session-record writes in order. Interaction never blocks
// on storage; a failed write only costs orphan recoverability.
func (e *Engine) persistLoop() {
	for req := range e.persistCh {
		if req.snap != nil {
			if err := e.sessions.Save(context.Background(), *req.snap); err != nil {
				log.Printf("session engine: save session snapshot: %v", err)
			}
			continue
		}
		if err := e.sessions.Clear(context.Background(), req.clearSubject); err != nil {
			log.Printf("session engine: clear session record: %v", err)
		}
	}
}

// Subscribe returns a channel of engine events. The caller must invoke the
// returned cancel function to avoid leaks.
func (e *Engine) Subscribe() (<-chan SessionEvent, func()) {
	return e.events.Subscribe()
}

// Snapshot returns a copy of the current session state, if a session exists.
func (e *Engine) Snapshot() (domain.SessionSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return domain.SessionSnapshot{}, false
	}
	return e.snapshotLocked(), true
}

// StartSession begins a session for the subject. If persisted storage holds an
// orphaned session for the same subject (active=true left behind by an unclean
// exit), it is restored wholesale, questions and progress and telemetry
// included, and the countdown resumes; no questions are re-fetched. Otherwise any live
// session is discarded, up to maxQuestions questions are randomly sampled for
// the subject, and the countdown starts. An empty sample is fatal
// (ErrNoQuestions): it means the question bank was never seeded.
func (e *Engine) StartSession(ctx context.Context, subject string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap, ok, err := e.sessions.Load(ctx, subject); err != nil {
		log.Printf("session engine: discarding unreadable session record for %q: %v", subject, err)
	} else if ok && snap.Active && snap.Subject == subject {
		e.restoreLocked(snap)
		return nil
	}

	e.terminateLocked("replace")

	sample, err := e.bank.SampleQuestions(ctx, subject, e.maxQuestions)
	if err != nil {
		return err
	}
	if len(sample) == 0 {
		return domain.ErrNoQuestions
	}

	questions := make([]domain.Question, len(sample))
	for i, q := range sample {
		questions[i] = randomizeOptions(q, e.rnd)
	}

	now := e.now()
	duration := len(questions) * e.secondsPerQuestion
	e.state = &session{
		active:        true,
		subject:       subject,
		startedAt:     now,
		totalDuration: duration,
		timeLeft:      duration,
		questions:     questions,
		answers:       make(map[int]int),
		bookmarks:     make(map[string]struct{}),
		telemetry:     domain.NewTelemetry(),
	}
	e.touchLocked(0)
	e.startTimerLocked()
	e.persistLocked("start")
	return nil
}

// restoreLocked rehydrates an orphaned session and resumes its countdown.
func (e *Engine) restoreLocked(snap domain.SessionSnapshot) {
	bookmarks := make(map[string]struct{}, len(snap.Bookmarks))
	for _, id := range snap.Bookmarks {
		bookmarks[id] = struct{}{}
	}
	snap.Telemetry.Repair()
	if snap.Answers == nil {
		snap.Answers = make(map[int]int)
	}

	e.stopTimerLocked()
	e.state = &session{
		active:        true,
		subject:       snap.Subject,
		startedAt:     snap.StartedAt,
		totalDuration: snap.TotalDuration,
		timeLeft:      snap.TimeLeft,
		questions:     snap.Questions,
		answers:       snap.Answers,
		bookmarks:     bookmarks,
		currentIndex:  snap.CurrentIndex,
		telemetry:     snap.Telemetry,
	}
	e.touchLocked(e.state.currentIndex)
	e.startTimerLocked()
	e.persistLocked("restore")
}

// SubmitAnswer records an answer for the current question. Changing an
// existing answer bumps the per-question switch counter; the time since the
// question was first shown is captured into TimePerQuestion. No-op when no
// session is active.
func (e *Engine) SubmitAnswer(optionIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active {
		return
	}
	idx := s.currentIndex
	if optionIndex < 0 || optionIndex >= len(s.questions[idx].Options) {
		return
	}
	if prev, ok := s.answers[idx]; ok && prev != optionIndex {
		s.telemetry.Switches[idx]++
	}
	if startMs, ok := s.telemetry.QuestionStartTimes[idx]; ok {
		s.telemetry.TimePerQuestion[idx] = e.now().UnixMilli() - startMs
	}
	s.answers[idx] = optionIndex
	e.persistLocked("answer")
}

// ToggleBookmark adds or removes a bookmark. Bookmarks are keyed by question
// ID, not index: they survive into the result snapshot and are not affected by
// option shuffling.
func (e *Engine) ToggleBookmark(questionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active {
		return
	}
	if _, ok := s.bookmarks[questionID]; ok {
		delete(s.bookmarks, questionID)
	} else {
		s.bookmarks[questionID] = struct{}{}
	}
	e.persistLocked("bookmark")
}

// NextQuestion advances to the next question. Advancing away from a question
// within the impulse window of first seeing it bumps the global impulse
// counter. No-op at the last question.
func (e *Engine) NextQuestion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active || s.currentIndex+1 >= len(s.questions) {
		return
	}
	if startMs, ok := s.telemetry.QuestionStartTimes[s.currentIndex]; ok {
		if e.now().UnixMilli()-startMs < impulseThresholdMs {
			s.telemetry.ImpulseClicks++
		}
	}
	s.currentIndex++
	e.touchLocked(s.currentIndex)
	e.persistLocked("next")
}

// PrevQuestion moves to the previous question. No-op at the first question.
func (e *Engine) PrevQuestion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active || s.currentIndex == 0 {
		return
	}
	s.currentIndex--
	e.touchLocked(s.currentIndex)
	e.persistLocked("prev")
}

// GoToQuestion jumps to question i. No-op outside [0, len).
func (e *Engine) GoToQuestion(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active || i < 0 || i >= len(s.questions) {
		return
	}
	s.currentIndex = i
	e.touchLocked(i)
	e.persistLocked("goto")
}

// SubmitQuiz finishes the session: stops the timer, scores the attempt, clears
// the persisted session record, appends the result to history, and updates
// subject mastery. History and mastery writes are best-effort; their failure
// is logged and the result is still delivered. Returns (nil, nil) when no
// session is active, which also makes a user submit racing the timer's
// auto-submit a harmless no-op.
func (e *Engine) SubmitQuiz(ctx context.Context) (*domain.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitLocked(ctx), nil
}

func (e *Engine) submitLocked(ctx context.Context) *domain.Result {
	s := e.state
	if s == nil || !s.active {
		return nil
	}
	e.stopTimerLocked()
	s.active = false

	result := e.calculateResultLocked()

	e.persistCh <- persistReq{clearSubject: s.subject}
	if err := e.progress.AppendResult(ctx, result); err != nil {
		log.Printf("session engine: append result: %v", err)
	}
	if err := e.updateMasteryLocked(ctx, result); err != nil {
		log.Printf("session engine: update mastery: %v", err)
	}

	e.events.Publish(SessionEvent{Kind: EventResult, Result: &result})
	return &result
}

// Terminate abandons the current session without scoring it and clears the
// persisted record. Also used as the clean-slate step before a fresh start.
func (e *Engine) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminateLocked("terminate")
}

func (e *Engine) terminateLocked(op string) {
	if e.state == nil {
		return
	}
	e.stopTimerLocked()
	subject := e.state.subject
	e.state = nil
	e.persistCh <- persistReq{clearSubject: subject}
	e.events.Publish(SessionEvent{Kind: EventSession, Op: op})
}

// touchLocked stamps the first-view timestamp for a question index, once.
func (e *Engine) touchLocked(idx int) {
	t := &e.state.telemetry
	if _, ok := t.QuestionStartTimes[idx]; !ok {
		t.QuestionStartTimes[idx] = e.now().UnixMilli()
	}
}

// persistLocked broadcasts the mutation and enqueues the snapshot write.
func (e *Engine) persistLocked(op string) {
	snap := e.snapshotLocked()
	e.events.Publish(SessionEvent{Kind: EventSession, Op: op, TimeLeft: snap.TimeLeft, State: &snap})
	e.persistCh <- persistReq{snap: &snap}
}

func (e *Engine) snapshotLocked() domain.SessionSnapshot {
	s := e.state
	answers := make(map[int]int, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	bookmarks := make([]string, 0, len(s.bookmarks))
	for id := range s.bookmarks {
		bookmarks = append(bookmarks, id)
	}
	sort.Strings(bookmarks)

	telemetry := domain.NewTelemetry()
	telemetry.ImpulseClicks = s.telemetry.ImpulseClicks
	for k, v := range s.telemetry.Switches {
		telemetry.Switches[k] = v
	}
	for k, v := range s.telemetry.TimePerQuestion {
		telemetry.TimePerQuestion[k] = v
	}
	for k, v := range s.telemetry.QuestionStartTimes {
		telemetry.QuestionStartTimes[k] = v
	}

	questions := make([]domain.Question, len(s.questions))
	copy(questions, s.questions)

	return domain.SessionSnapshot{
		Active:        s.active,
		Subject:       s.subject,
		StartedAt:     s.startedAt,
		TotalDuration: s.totalDuration,
		TimeLeft:      s.timeLeft,
		Questions:     questions,
		Answers:       answers,
		Bookmarks:     bookmarks,
		CurrentIndex:  s.currentIndex,
		Telemetry:     telemetry,
	}
}

// startTimerLocked launches the countdown. At most one timer is alive per
// engine; starting always cancels the previous one.
func (e *Engine) startTimerLocked() {
	e.stopTimerLocked()
	stop := make(chan struct{})
	e.timerStop = stop
	go func() {
		ticker := time.NewTicker(e.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.tick()
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopTimerLocked() {
	if e.timerStop != nil {
		close(e.timerStop)
		e.timerStop = nil
	}
}

// tick decrements the countdown, broadcasts the remaining time, and
// auto-submits exactly once when it reaches zero. The active guard shared with
// SubmitQuiz means a user submit racing expiry cannot double-submit.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if s == nil || !s.active {
		return
	}
	if s.timeLeft > 0 {
		s.timeLeft--
	}
	e.events.Publish(SessionEvent{Kind: EventTick, TimeLeft: s.timeLeft})
	if s.timeLeft == 0 {
		e.submitLocked(context.Background())
	}
}
