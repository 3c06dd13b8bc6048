package reports

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
			_, ok := NormalizeSeverity(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("alldigits", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			for _, r := range s {
				if r < '0' || r > '9' {
					return false
				}
			}
			return s != ""
		})
		validate = v
	})
	return validate
}

// Normalize trims the input in place and canonicalizes the severity. The
// phone number is only trimmed; separators make it invalid.
func (in *SubmitInput) Normalize() {
	in.Address = strings.TrimSpace(in.Address)
	in.ReporterName = strings.TrimSpace(in.ReporterName)
	in.FloodHeight = strings.TrimSpace(in.FloodHeight)
	if s, ok := NormalizeSeverity(in.FloodHeight); ok {
		in.FloodHeight = s
	}
	in.ReporterPhone = strings.TrimSpace(in.ReporterPhone)
}

// ValidateSubmitInput checks a normalized input and returns an
// *apperrors.ValidationError naming every offending field.
func ValidateSubmitInput(in *SubmitInput) error {
	err := formValidator().Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	out := &apperrors.ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s digits", fe.Param())
	case "severity":
		return "must be a known category or a positive depth in centimetres"
	case "alldigits":
		return "must contain digits only"
	}
	return "is invalid"
}
