package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

var validate = validator.New()

func init() {
	// Report 'json' tag name instead of struct field name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

// Error wraps field level failures
// It matches both apperrors.ErrInvalidInput and validator.ValidationErrors with errors.Is/As
type Error struct {
	Errs validator.ValidationErrors
}

func (e *Error) Error() string {
	fields := make([]string, 0, len(e.Errs))
	for _, fe := range e.Errs {
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), Message(fe)))
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrInvalidInput, strings.Join(fields, "; "))
}

func (e *Error) Unwrap() []error {
	return []error{apperrors.ErrInvalidInput, e.Errs}
}

// Struct validates value by its `validate` tags
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		return &Error{Errs: errs}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
}

// Message is user friendly text for validation tag
func Message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fe.Param())
	case "email":
		return "Please enter a valid email address"
	default:
		return "Invalid value"
	}
}

// Fields maps json field name to message. Nil if err holds no field errors
func Fields(err error) map[string]string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = Message(fe)
	}
	return fields
}
