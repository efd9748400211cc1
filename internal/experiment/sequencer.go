// Package experiment drives an acquisition session: it prompts the
// participant through fixation, preparation, task windows and rest for every
// trial, and records where each task window ended in the sample buffer.
package experiment

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/processing"
)

type State int

const (
	Idle State = iota
	Fixation
	Preparation
	Window
	Rest
	Done
)

var stateNames = map[State]string{
	Idle:        "idle",
	Fixation:    "fixation",
	Preparation: "preparation",
	Window:      "window",
	Rest:        "rest",
	Done:        "done",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cursor reports the current write position of the sample buffer.
// *processing.SampleBuffer implements it.
type Cursor interface {
	Cursor() processing.Offset
}

// Clock lets tests run a session without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sequencer runs one session. Operator prompts go to prompt.
type Sequencer struct {
	protocol Protocol
	trials   []Condition
	cursor   Cursor
	prompt   io.Writer
	logger   *zap.Logger
	clock    Clock

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)

	mu    sync.Mutex
	state State
}

func NewSequencer(protocol Protocol, trials []Condition, cursor Cursor, prompt io.Writer, logger *zap.Logger) *Sequencer {
	if prompt == nil {
		prompt = io.Discard
	}
	return &Sequencer{
		protocol: protocol,
		trials:   trials,
		cursor:   cursor,
		prompt:   prompt,
		logger:   logger,
		clock:    realClock{},
	}
}

// WithClock replaces the wall clock.
func (s *Sequencer) WithClock(c Clock) *Sequencer {
	s.clock = c
	return s
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) enter(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("[sequencer] state change", zap.Stringer("from", from), zap.Stringer("to", to))
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}

// Run walks every trial and returns one marker per task window, in the order
// the windows were performed. If ctx is cancelled the markers recorded so far
// are returned with ctx's error.
func (s *Sequencer) Run(ctx context.Context) ([]processing.WindowMarker, error) {
	markers := make([]processing.WindowMarker, 0, len(s.trials)*s.protocol.WindowsPerTrial)

	fmt.Fprintln(s.prompt, "********* Experiment in progress *********")
	if err := s.clock.Sleep(ctx, s.protocol.LeadIn); err != nil {
		return markers, err
	}

	for i, trial := range s.trials {
		s.logger.Info("[sequencer] starting trial",
			zap.Int("trial", i+1),
			zap.Int("trials", len(s.trials)),
			zap.String("condition", trial.Name),
		)

		s.enter(Fixation)
		fmt.Fprintf(s.prompt, "\n********* Trial %d/%d *********\n", i+1, len(s.trials))
		if err := s.clock.Sleep(ctx, s.protocol.Fixation); err != nil {
			return markers, err
		}

		s.enter(Preparation)
		fmt.Fprintln(s.prompt, trial.Name)
		if err := s.clock.Sleep(ctx, s.protocol.Preparation); err != nil {
			return markers, err
		}

		// window deadlines are measured from the start of the task so that
		// sleep overshoot does not accumulate
		start := s.clock.Now()
		for w := 0; w < s.protocol.WindowsPerTrial; w++ {
			s.enter(Window)
			deadline := start.Add(time.Duration(w+1) * s.protocol.Window)
			if err := s.clock.Sleep(ctx, deadline.Sub(s.clock.Now())); err != nil {
				return markers, err
			}
			markers = append(markers, processing.WindowMarker{
				Label:   trial.Name,
				LabelID: trial.ID,
				Offset:  s.cursor.Cursor(),
			})
		}

		s.enter(Rest)
		fmt.Fprintln(s.prompt, "----Rest----")
		if err := s.clock.Sleep(ctx, s.protocol.Rest); err != nil {
			return markers, err
		}
	}

	s.enter(Done)
	s.logger.Info("[sequencer] session complete", zap.Int("windows", len(markers)))
	return markers, nil
}
