package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return &Validator{validate: v}
}

// Validate checks i against its struct tags. The second return is true
// when the value is valid.
func (v *Validator) Validate(i any) ([]ValidationError, bool) {
	err := v.validate.Struct(i)
	if err == nil {
		return nil, true
	}

	validationErrors := err.(validator.ValidationErrors)
	errors := make([]ValidationError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		var message string
		switch fieldErr.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fieldErr.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters long", fieldErr.Field(), fieldErr.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s characters", fieldErr.Field(), fieldErr.Param())
		default:
			message = fmt.Sprintf("%s is invalid", fieldErr.Field())
		}

		errors = append(errors, ValidationError{
			Field:   fieldErr.Field(),
			Code:    strings.ToUpper(fieldErr.Tag()),
			Message: message,
		})
	}

	return errors, false
}
