package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes the first rule a value broke
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StructValidator runs `validate` struct tags, including the phone rule
type StructValidator struct {
	validate *validator.Validate
	phones   *PhoneValidator
}

// PhoneRule accepts numbers PhoneValidator can normalize
func PhoneRule(phones *PhoneValidator) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return phones.IsValid(fl.Field().String())
	}
}

// NewStructValidator creates a validator reporting fields by their json names
func NewStructValidator() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	phones := NewPhoneValidator()
	_ = v.RegisterValidation("phone", PhoneRule(phones))

	return &StructValidator{validate: v, phones: phones}
}

// Engine exposes the underlying validator so gin binding can share the rules
func (s *StructValidator) Engine() *validator.Validate {
	return s.validate
}

// Struct validates s and returns the first failure as a *FieldError. prefix is
// prepended to field names, e.g. "participants[2]".
func (s *StructValidator) Struct(value interface{}, prefix string) error {
	err := s.validate.Struct(value)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	first := verrs[0]
	field := first.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	if prefix != "" {
		field = prefix + "." + field
	}
	return &FieldError{Field: field, Message: describe(first)}
}

// NormalizePhone returns the E.164 form of a phone number
func (s *StructValidator) NormalizePhone(phone string) (string, error) {
	return s.phones.Normalize(phone)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
