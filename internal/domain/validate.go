package domain

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// ExerciseInput is an exercise row as typed into the form. Numeric fields may be blank.
type ExerciseInput struct {
	LocalKey string `json:"local_key"`
	Name     string `json:"name"`
	Sets     string `json:"sets" validate:"omitempty,nonnegint"`
	Reps     string `json:"reps" validate:"omitempty,nonnegint"`
	Weight   string `json:"weight" validate:"omitempty,nonnegnum"`
}

// Candidate is an unvalidated workout as produced by the draft editor
type Candidate struct {
	Title     string          `json:"title" validate:"notblank"`
	Type      string          `json:"type" validate:"workouttype"`
	Duration  string          `json:"duration" validate:"posint"`
	Calories  string          `json:"calories" validate:"posint"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Exercises []ExerciseInput `json:"exercises" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("workouttype", func(fl validator.FieldLevel) bool {
		return WorkoutType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("posint", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
		return err == nil && n > 0
	})
	_ = v.RegisterValidation("nonnegint", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
		return err == nil && n >= 0
	})
	_ = v.RegisterValidation("nonnegnum", func(fl validator.FieldLevel) bool {
		f, err := strconv.ParseFloat(strings.TrimSpace(fl.Field().String()), 64)
		return err == nil && f >= 0 && !math.IsInf(f, 0)
	})
	return v
}

var ruleMessages = map[string]string{
	"notblank":    "must not be empty",
	"required":    "is required",
	"workouttype": "must be one of Run, Cycling, Weights, Yoga, Swimming, Other",
	"posint":      "must be a positive whole number",
	"nonnegint":   "must be a whole number of zero or more",
	"nonnegnum":   "must be a number of zero or more",
	"datetime":    "must be a calendar date (YYYY-MM-DD)",
}

// ValidateWorkout checks a candidate and converts it to a draft Workout.
// Every violation is reported, not only the first.
func ValidateWorkout(c Candidate) (*Workout, error) {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, err
		}
		out := make(ValidationErrors, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, toValidationError(fe))
		}
		return nil, out
	}

	ts, _ := time.ParseInLocation(DateLayout, c.Date, time.UTC)
	duration, _ := strconv.Atoi(strings.TrimSpace(c.Duration))
	calories, _ := strconv.Atoi(strings.TrimSpace(c.Calories))

	w := &Workout{
		Title:     strings.TrimSpace(c.Title),
		Type:      WorkoutType(c.Type),
		Duration:  duration,
		Calories:  calories,
		Date:      c.Date,
		Timestamp: ts,
		Exercises: make([]Exercise, 0, len(c.Exercises)),
	}
	for _, in := range c.Exercises {
		key := in.LocalKey
		if key == "" {
			key = NewLocalKey()
		}
		w.Exercises = append(w.Exercises, Exercise{
			LocalKey: key,
			Name:     strings.TrimSpace(in.Name),
			Sets:     atoiBlank(in.Sets),
			Reps:     atoiBlank(in.Reps),
			Weight:   atofBlank(in.Weight),
		})
	}
	return w, nil
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	msg, ok := ruleMessages[fe.Tag()]
	if !ok {
		msg = "is invalid"
	}
	return ValidationError{Field: field, Rule: fe.Tag(), Message: msg}
}

// CandidateFromWorkout renders a workout back into form input
func CandidateFromWorkout(w Workout) Candidate {
	c := Candidate{
		Title:     w.Title,
		Type:      string(w.Type),
		Duration:  strconv.Itoa(w.Duration),
		Calories:  strconv.Itoa(w.Calories),
		Date:      w.Date,
		Exercises: make([]ExerciseInput, len(w.Exercises)),
	}
	for i, ex := range w.Exercises {
		c.Exercises[i] = ExerciseInputFrom(ex)
	}
	return c
}

// ExerciseInputFrom renders an exercise as a form row; zero values render blank
func ExerciseInputFrom(ex Exercise) ExerciseInput {
	in := ExerciseInput{LocalKey: ex.LocalKey, Name: ex.Name}
	if ex.Sets != 0 {
		in.Sets = strconv.Itoa(ex.Sets)
	}
	if ex.Reps != 0 {
		in.Reps = strconv.Itoa(ex.Reps)
	}
	if ex.Weight != 0 {
		in.Weight = strconv.FormatFloat(ex.Weight, 'f', -1, 64)
	}
	return in
}

func atoiBlank(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func atofBlank(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
