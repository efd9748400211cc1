package experiment

import (
	"math"
	"math/rand/v2"
	"time"
)

// Condition is one activity the participant performs during a trial.
type Condition struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

func DefaultConditions() []Condition {
	return []Condition{
		{Name: "Nothing", ID: 1},
		{Name: "Jump", ID: 2},
		{Name: "Run", ID: 3},
		{Name: "Walk", ID: 4},
		{Name: "Squat", ID: 5},
		{Name: "JumpingJack", ID: 6},
	}
}

// Protocol describes the timing of an acquisition session.
type Protocol struct {
	Conditions         []Condition
	TrialsPerCondition int
	WindowsPerTrial    int

	LeadIn      time.Duration
	Fixation    time.Duration
	Preparation time.Duration
	Window      time.Duration
	Rest        time.Duration
}

func DefaultProtocol() Protocol {
	return Protocol{
		Conditions:         DefaultConditions(),
		TrialsPerCondition: 2,
		WindowsPerTrial:    30,
		LeadIn:             2 * time.Second,
		Fixation:           2 * time.Second,
		Preparation:        1 * time.Second,
		Window:             500 * time.Millisecond,
		Rest:               1 * time.Second,
	}
}

// TrialCount returns the number of trials in a session.
func (p Protocol) TrialCount() int {
	return len(p.Conditions) * p.TrialsPerCondition
}

// TrialDuration returns the length of one trial from fixation to the end of
// its rest period.
func (p Protocol) TrialDuration() time.Duration {
	return p.Fixation + p.Preparation + time.Duration(p.WindowsPerTrial)*p.Window + p.Rest
}

// SessionDuration returns the expected length of the whole session.
func (p Protocol) SessionDuration() time.Duration {
	return p.LeadIn + time.Duration(p.TrialCount())*p.TrialDuration()
}

// BufferCapacity sizes an append-mode buffer for the session: twice the
// number of samples the session would produce at maxRate.
func (p Protocol) BufferCapacity(maxRate float64) int {
	return int(math.Ceil(2 * p.SessionDuration().Seconds() * maxRate))
}

// Trials repeats every condition TrialsPerCondition times and shuffles the
// result with rng.
func (p Protocol) Trials(rng *rand.Rand) []Condition {
	trials := make([]Condition, 0, p.TrialCount())
	for i := 0; i < p.TrialsPerCondition; i++ {
		trials = append(trials, p.Conditions...)
	}
	rng.Shuffle(len(trials), func(i, j int) { trials[i], trials[j] = trials[j], trials[i] })
	return trials
}
