/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultResolveDelay = time.Second
	DefaultTickInterval = time.Second
)

// State is the phase of a session.
type State int

const (
	NotStarted State = iota
	Running
	Resolving
	Complete
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Resolving:
		return "resolving"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Events are the callbacks through which a session reports to the
// presentation layer. Any of them may be nil.
type Events struct {
	CardFlipped  func(index int)
	PairResolved func(matched bool, indices [2]int)
	GameComplete func(result Result)
	Tick         func(elapsed int)

	// Rejected receives every refused operation, for diagnostics.
	Rejected func(err error)
}

// Option configures a Session.
type Option func(*Session)

// WithScoring overrides the point values.
func WithScoring(p Scoring) Option {
	return func(s *Session) {
		s.scoring = p
	}
}

// WithResolveDelay sets how long two face-up cards stay visible before
// they are evaluated.
func WithResolveDelay(d time.Duration) Option {
	return func(s *Session) {
		s.resolveDelay = d
	}
}

// WithTickInterval sets the period of the elapsed-time clock. Each tick
// counts as one second regardless of the interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		s.tickInterval = d
	}
}

// Session is a single game of memory. It is not safe for concurrent use: all
// methods, and all scheduler callbacks, must run on the same goroutine.
type Session struct {
	scheduler    Scheduler
	events       Events
	scoring      Scoring
	resolveDelay time.Duration
	tickInterval time.Duration

	id         string
	generation uint64

	state        State
	cards        []Card
	flipped      []int
	moves        int
	matchedPairs int
	score        int
	elapsed      int
	result       *Result

	tick    Timer
	pending Timer
}

// NewSession returns a session in the NotStarted state.
func NewSession(scheduler Scheduler, events Events, opts ...Option) *Session {
	s := &Session{
		scheduler:    scheduler,
		events:       events,
		scoring:      DefaultScoring(),
		resolveDelay: DefaultResolveDelay,
		tickInterval: DefaultTickInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins a new game with cards, replacing any game in progress.
func (s *Session) Start(cards []Card) error {
	if err := checkDeck(cards); err != nil {
		return s.reject(err)
	}

	s.clear()

	s.id = uuid.NewString()
	s.cards = make([]Card, len(cards))
	copy(s.cards, cards)
	for i := range s.cards {
		s.cards[i].Matched = false
	}
	s.flipped = make([]int, 0, 2)
	s.state = Running

	gen := s.generation
	s.tick = s.scheduler.Every(s.tickInterval, func() {
		s.onTick(gen)
	})

	return nil
}

func checkDeck(cards []Card) error {
	if len(cards) < 4 || len(cards)%2 != 0 {
		return fmt.Errorf("%w: %d cards cannot form at least two pairs", ErrInsufficientImages, len(cards))
	}

	counts := make(map[string]int, len(cards)/2)
	for _, c := range cards {
		counts[c.Key]++
	}

	for key, n := range counts {
		if n != 2 {
			return fmt.Errorf("%w: key %q appears on %d cards", ErrUnpairedCard, key, n)
		}
	}

	return nil
}

// Flip turns the card at index face up. The second flip of a turn counts as
// a move and schedules the pair's evaluation after the resolve delay.
func (s *Session) Flip(index int) error {
	switch s.state {
	case Running:
	case Resolving:
		return s.reject(fmt.Errorf("%w: two cards are already face up", ErrInvalidFlipTarget))
	default:
		return s.reject(fmt.Errorf("%w: cannot flip while %s", ErrOutOfState, s.state))
	}

	if index < 0 || index >= len(s.cards) {
		return s.reject(fmt.Errorf("%w: index %d out of range", ErrInvalidFlipTarget, index))
	}
	if s.cards[index].Matched {
		return s.reject(fmt.Errorf("%w: card %d is already matched", ErrInvalidFlipTarget, index))
	}
	if len(s.flipped) == 1 && s.flipped[0] == index {
		return s.reject(fmt.Errorf("%w: card %d is already face up", ErrInvalidFlipTarget, index))
	}

	s.flipped = append(s.flipped, index)

	// The move is counted before observers hear of the second card.
	if len(s.flipped) == 2 {
		s.moves++
		s.state = Resolving

		gen := s.generation
		s.pending = s.scheduler.AfterFunc(s.resolveDelay, func() {
			s.resolvePair(gen)
		})
	}

	if s.events.CardFlipped != nil {
		s.events.CardFlipped(index)
	}

	return nil
}

func (s *Session) resolvePair(gen uint64) {
	if gen != s.generation || s.state != Resolving || len(s.flipped) != 2 {
		return
	}
	s.pending = nil

	indices := [2]int{s.flipped[0], s.flipped[1]}
	first, second := &s.cards[indices[0]], &s.cards[indices[1]]

	matched := first.Key == second.Key
	if matched {
		first.Matched = true
		second.Matched = true
		s.matchedPairs++
		s.score += s.scoring.MatchPoints
	}

	s.flipped = s.flipped[:0]
	s.state = Running

	if s.events.PairResolved != nil {
		s.events.PairResolved(matched, indices)
	}

	// A callback may have reset or restarted the session.
	if gen != s.generation {
		return
	}

	if matched && s.matchedPairs == len(s.cards)/2 {
		s.complete()
	}
}

func (s *Session) complete() {
	s.stopTimers()

	timeBonus, moveBonus := s.scoring.Bonus(s.elapsed, len(s.cards), s.moves)
	s.score += timeBonus + moveBonus
	s.state = Complete

	s.result = &Result{
		Score:     s.score,
		Moves:     s.moves,
		Elapsed:   s.elapsed,
		TimeBonus: timeBonus,
		MoveBonus: moveBonus,
	}

	if s.events.GameComplete != nil {
		s.events.GameComplete(*s.result)
	}
}

func (s *Session) onTick(gen uint64) {
	if gen != s.generation || (s.state != Running && s.state != Resolving) {
		return
	}

	s.elapsed++

	if s.events.Tick != nil {
		s.events.Tick(s.elapsed)
	}
}

// Reset abandons the current game, cancelling its clock and any pending
// resolution, and returns the session to NotStarted.
func (s *Session) Reset() {
	s.clear()
}

func (s *Session) clear() {
	s.stopTimers()
	s.generation++

	s.id = ""
	s.state = NotStarted
	s.cards = nil
	s.flipped = nil
	s.moves = 0
	s.matchedPairs = 0
	s.score = 0
	s.elapsed = 0
	s.result = nil
}

func (s *Session) stopTimers() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Session) reject(err error) error {
	if s.events.Rejected != nil {
		s.events.Rejected(err)
	}

	return err
}

// ID returns the identifier of the current game, or "" before Start and
// after Reset. Every Start issues a new one.
func (s *Session) ID() string {
	return s.id
}

// State returns the current phase.
func (s *Session) State() State {
	return s.state
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID           string
	State        State
	Cards        []Card
	Flipped      []int
	Moves        int
	MatchedPairs int
	TotalPairs   int
	Score        int
	Elapsed      int
	Result       *Result
}

// FaceUp reports whether the card at index is currently visible.
func (sn Snapshot) FaceUp(index int) bool {
	if index < 0 || index >= len(sn.Cards) {
		return false
	}
	if sn.Cards[index].Matched {
		return true
	}
	for _, i := range sn.Flipped {
		if i == index {
			return true
		}
	}

	return false
}

// Snapshot returns a copy of the session's state.
func (s *Session) Snapshot() Snapshot {
	sn := Snapshot{
		ID:           s.id,
		State:        s.state,
		Cards:        append([]Card(nil), s.cards...),
		Flipped:      append([]int(nil), s.flipped...),
		Moves:        s.moves,
		MatchedPairs: s.matchedPairs,
		TotalPairs:   len(s.cards) / 2,
		Score:        s.score,
		Elapsed:      s.elapsed,
	}

	if s.result != nil {
		r := *s.result
		sn.Result = &r
	}

	return sn
}
