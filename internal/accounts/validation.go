package accounts

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

var photoDataPattern = regexp.MustCompile(`^data:image/(jpeg|png|gif);base64,`)

// SignupInput is the payload of a local account registration.
type SignupInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginInput is the payload of a local login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// ProfileUpdate changes any non-empty field. Changing the password needs both passwords.
type ProfileUpdate struct {
	Name            string `json:"name" validate:"omitempty,max=120"`
	Email           string `json:"email" validate:"omitempty,email,max=320"`
	CurrentPassword string `json:"current_password" validate:"omitempty,max=72"`
	NewPassword     string `json:"new_password" validate:"omitempty,min=8,max=72"`
}

// PhotoInput sets the profile photo from an inline image data URL.
type PhotoInput struct {
	PhotoData   string `json:"photo_data" validate:"required"`
	ContentType string `json:"content_type" validate:"omitempty,oneof=image/jpeg image/png image/gif"`
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return validate
}

// describeValidation renders the first failing rule as a client-safe sentence.
func describeValidation(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return defaultMessages[ErrValidationFailed]
	}
	fieldError := fieldErrors[0]
	field := fieldError.Field()
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fieldError.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fieldError.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fieldError.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
