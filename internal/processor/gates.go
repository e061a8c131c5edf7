package processor

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
)

// MaxQuestionLength bounds a question, counted in characters.
const MaxQuestionLength = 500

// Request is one shopper question.
type Request struct {
	Question  string `json:"question" validate:"required,max=500"`
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,max=128,printascii"`
	UserID    string `json:"userId,omitempty" validate:"omitempty,max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRequest trims req in place and rejects it when a field is out of
// bounds. The returned error is always a Validation error naming the field.
func checkRequest(req *Request) error {
	req.Question = strings.TrimSpace(req.Question)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.UserID = strings.TrimSpace(req.UserID)

	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation(fe.Field(), gateMessage(fe))
	}
	return apperr.Validation("request", err.Error())
}

func gateMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "printascii":
		return "must be printable ASCII"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
