package handler

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/mansoorceksport/fitsync/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// formValue is a form field sent either as a JSON string or a JSON number
type formValue string

func (v *formValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = formValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("expected a string or a number")
	}
	*v = formValue(n.String())
	return nil
}

type exerciseRequest struct {
	Name   formValue `json:"name"`
	Sets   formValue `json:"sets"`
	Reps   formValue `json:"reps"`
	Weight formValue `json:"weight"`
}

// workoutRequest is the body of create and update
type workoutRequest struct {
	Title     formValue         `json:"title"`
	Type      formValue         `json:"type"`
	Duration  formValue         `json:"duration"`
	Calories  formValue         `json:"calories"`
	Date      formValue         `json:"date"`
	Exercises []exerciseRequest `json:"exercises"`
}

func (r workoutRequest) candidate() domain.Candidate {
	c := domain.Candidate{
		Title:     string(r.Title),
		Type:      string(r.Type),
		Duration:  string(r.Duration),
		Calories:  string(r.Calories),
		Date:      string(r.Date),
		Exercises: make([]domain.ExerciseInput, len(r.Exercises)),
	}
	for i, ex := range r.Exercises {
		c.Exercises[i] = domain.ExerciseInput{
			LocalKey: domain.NewLocalKey(),
			Name:     string(ex.Name),
			Sets:     string(ex.Sets),
			Reps:     string(ex.Reps),
			Weight:   string(ex.Weight),
		}
	}
	return c
}

// fieldsRequest is a partial form update keyed by field name
type fieldsRequest map[string]formValue

func (r fieldsRequest) values() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = string(v)
	}
	return out
}

// parseBody decodes the JSON body into out, reporting malformed input as a 400
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// validateStruct runs struct tags and reports failures in the same shape as workout
// validation
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(domain.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, domain.ValidationError{
			Field:   strings.ToLower(field),
			Rule:    fe.Tag(),
			Message: "failed " + fe.Tag() + " rule",
		})
	}
	return out
}

// param returns a route parameter that is safe to keep after the request ends
func param(c *fiber.Ctx, name string) string {
	return utils.CopyString(c.Params(name))
}

// query returns a query value that is safe to keep after the request ends
func query(c *fiber.Ctx, name string) string {
	return utils.CopyString(c.Query(name))
}
