// Package draft holds the in-progress new/edit workout form.
package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/store"
)

// Mode tells how a draft was started
type Mode string

const (
	ModeNew      Mode = "new"
	ModeEdit     Mode = "edit"
	ModeTemplate Mode = "template"
)

// Submitter receives validated drafts; *store.Store satisfies it
type Submitter interface {
	SubmitCreate(ctx context.Context, c domain.Candidate) (*store.Mutation, error)
	SubmitUpdate(ctx context.Context, id string, c domain.Candidate) (*store.Mutation, error)
}

// Draft is a snapshot of the form
type Draft struct {
	Mode      Mode             `json:"mode"`
	EditingID string           `json:"editing_id,omitempty"`
	Candidate domain.Candidate `json:"candidate"`
}

// Editor is the mutable form state of one owner. It never touches the store until Submit.
type Editor struct {
	mu     sync.Mutex
	target Submitter
	now    func() time.Time
	draft  Draft
}

type Option func(*Editor)

// WithClock overrides the clock used for the default date
func WithClock(now func() time.Time) Option {
	return func(e *Editor) { e.now = now }
}

// NewEditor creates an editor holding a fresh new-workout draft
func NewEditor(target Submitter, opts ...Option) *Editor {
	e := &Editor{target: target, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.draft = e.blank()
	return e
}

func (e *Editor) blank() Draft {
	return Draft{
		Mode: ModeNew,
		Candidate: domain.Candidate{
			Type:      string(domain.WorkoutRun),
			Date:      e.now().Format(domain.DateLayout),
			Exercises: []domain.ExerciseInput{},
		},
	}
}

// Draft returns a copy of the current form
func (e *Editor) Draft() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyDraft(e.draft)
}

// StartNew discards the current form and starts an empty one
func (e *Editor) StartNew() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = e.blank()
	return copyDraft(e.draft)
}

// StartEdit loads a persisted workout for editing
func (e *Editor) StartEdit(w domain.Workout) Draft {
	c := domain.CandidateFromWorkout(w)
	for i := range c.Exercises {
		c.Exercises[i].LocalKey = domain.NewLocalKey()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = Draft{Mode: ModeEdit, EditingID: w.ID, Candidate: c}
	return copyDraft(e.draft)
}

// StartFromTemplate starts a new workout reusing title, type and exercises of w.
// Duration, calories and date go back to new-form defaults; rows get fresh keys.
func (e *Editor) StartFromTemplate(w domain.Workout) Draft {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.blank()
	d.Mode = ModeTemplate
	d.Candidate.Title = w.Title
	d.Candidate.Type = string(w.Type)
	for _, ex := range domain.RekeyExercises(w.Exercises) {
		d.Candidate.Exercises = append(d.Candidate.Exercises, domain.ExerciseInputFrom(ex))
	}
	e.draft = d
	return copyDraft(e.draft)
}

// SetField sets one top-level form field: title, type, duration, calories or date
func (e *Editor) SetField(name, value string) error {
	return e.SetFields(map[string]string{name: value})
}

// SetFields sets several top-level fields at once. Nothing changes unless every
// name is known.
func (e *Editor) SetFields(values map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.draft.Candidate
	for name, value := range values {
		if err := setCandidateField(&c, name, value); err != nil {
			return err
		}
	}
	e.draft.Candidate = c
	return nil
}

func setCandidateField(c *domain.Candidate, name, value string) error {
	switch name {
	case "title":
		c.Title = value
	case "type":
		c.Type = value
	case "duration":
		c.Duration = value
	case "calories":
		c.Calories = value
	case "date":
		c.Date = value
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownField, name)
	}
	return nil
}

// AddExerciseRow appends an empty row and returns its local key
func (e *Editor) AddExerciseRow() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := domain.NewLocalKey()
	e.draft.Candidate.Exercises = append(e.draft.Candidate.Exercises, domain.ExerciseInput{LocalKey: key})
	return key
}

// UpdateExerciseRow sets name, sets, reps or weight of the row with localKey
func (e *Editor) UpdateExerciseRow(localKey, field, value string) error {
	return e.UpdateExerciseRowFields(localKey, map[string]string{field: value})
}

// UpdateExerciseRowFields sets several fields of one row at once. Nothing changes
// unless the row exists and every field is known.
func (e *Editor) UpdateExerciseRowFields(localKey string, values map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.rowIndex(localKey)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrRowNotFound, localKey)
	}
	row := e.draft.Candidate.Exercises[i]
	for field, value := range values {
		switch field {
		case "name":
			row.Name = value
		case "sets":
			row.Sets = value
		case "reps":
			row.Reps = value
		case "weight":
			row.Weight = value
		default:
			return fmt.Errorf("%w: %s", domain.ErrUnknownField, field)
		}
	}
	e.draft.Candidate.Exercises[i] = row
	return nil
}

// RemoveExerciseRow drops the row with localKey
func (e *Editor) RemoveExerciseRow(localKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.rowIndex(localKey)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrRowNotFound, localKey)
	}
	rows := e.draft.Candidate.Exercises
	e.draft.Candidate.Exercises = append(rows[:i:i], rows[i+1:]...)
	return nil
}

func (e *Editor) rowIndex(localKey string) int {
	for i, row := range e.draft.Candidate.Exercises {
		if row.LocalKey == localKey {
			return i
		}
	}
	return -1
}

// Submit validates the draft and hands it to the store as a create, or as an update
// when it was started with StartEdit. On success the form resets to a new draft; on any
// error it is left untouched.
func (e *Editor) Submit(ctx context.Context) (*store.Mutation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := copyDraft(e.draft).Candidate
	if _, err := domain.ValidateWorkout(c); err != nil {
		return nil, err
	}

	var (
		m   *store.Mutation
		err error
	)
	if e.draft.Mode == ModeEdit {
		m, err = e.target.SubmitUpdate(ctx, e.draft.EditingID, c)
	} else {
		m, err = e.target.SubmitCreate(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	e.draft = e.blank()
	return m, nil
}

func copyDraft(d Draft) Draft {
	rows := make([]domain.ExerciseInput, len(d.Candidate.Exercises))
	copy(rows, d.Candidate.Exercises)
	d.Candidate.Exercises = rows
	return d
}
