package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkoutType is the kind of activity logged
type WorkoutType string

const (
	WorkoutRun      WorkoutType = "Run"
	WorkoutCycling  WorkoutType = "Cycling"
	WorkoutWeights  WorkoutType = "Weights"
	WorkoutYoga     WorkoutType = "Yoga"
	WorkoutSwimming WorkoutType = "Swimming"
	WorkoutOther    WorkoutType = "Other"
)

// WorkoutTypes lists every accepted type in display order
var WorkoutTypes = []WorkoutType{
	WorkoutRun,
	WorkoutCycling,
	WorkoutWeights,
	WorkoutYoga,
	WorkoutSwimming,
	WorkoutOther,
}

// Valid reports whether t is one of WorkoutTypes
func (t WorkoutType) Valid() bool {
	for _, known := range WorkoutTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// DateLayout is the calendar date format used by drafts and the history list
	DateLayout = "2006-01-02"

	// DateUnknown marks a record written without a timestamp
	DateUnknown = "unknown"
)

// Exercise is a row nested in a Workout. It has no identity outside its parent.
type Exercise struct {
	LocalKey string  `json:"local_key"` // transient list key, never persisted
	Name     string  `json:"name"`
	Sets     int     `json:"sets"`
	Reps     int     `json:"reps"`
	Weight   float64 `json:"weight"`
}

type Workout struct {
	ID        string      `json:"id,omitempty"`
	Title     string      `json:"title"`
	Type      WorkoutType `json:"type"`
	Duration  int         `json:"duration"` // minutes
	Calories  int         `json:"calories"`
	Date      string      `json:"date"`
	Timestamp time.Time   `json:"timestamp"`
	CreatedAt time.Time   `json:"created_at"`
	Exercises []Exercise  `json:"exercises"`

	// Optimistic entries only
	CorrelationID string `json:"correlation_id,omitempty"`
	Pending       bool   `json:"pending,omitempty"`
}

// Persisted reports whether the workout has been assigned an id by the remote store
func (w *Workout) Persisted() bool {
	return w.ID != ""
}

// DateKnown reports whether the workout carries a real timestamp
func (w *Workout) DateKnown() bool {
	return w.Date != DateUnknown && !w.Timestamp.IsZero()
}

// Clone returns a deep copy so callers never share exercise slices with the store
func (w Workout) Clone() Workout {
	if w.Exercises != nil {
		exs := make([]Exercise, len(w.Exercises))
		copy(exs, w.Exercises)
		w.Exercises = exs
	}
	return w
}

// DateFromTimestamp truncates a server timestamp to its calendar date in UTC
func DateFromTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return DateUnknown
	}
	return ts.UTC().Format(DateLayout)
}

// NewLocalKey generates a transient exercise row key
func NewLocalKey() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// RekeyExercises copies exs giving every row a fresh local key
func RekeyExercises(exs []Exercise) []Exercise {
	out := make([]Exercise, len(exs))
	for i, ex := range exs {
		ex.LocalKey = NewLocalKey()
		out[i] = ex
	}
	return out
}
