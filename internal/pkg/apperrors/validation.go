package apperrors

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FromValidator turns validator.ValidationErrors into a Validation error with
// one entry per failing field. Other errors become a plain Validation error.
func FromValidator(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation(err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		fields[lowerFirst(fe.Field())] = msg
	}
	return Validation("Invalid request", fields)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
