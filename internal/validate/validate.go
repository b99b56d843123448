// Package validate checks request payloads and reports the first failing rule
// as an *apperr.ValidationError with a message fit for end users.
package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/normalize"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,min=2,max=50"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// MessageRequest is the body of POST /messages.
type MessageRequest struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// messages keyed by "<json field>.<tag>".
var messages = map[string]string{
	"email.required":    "Email is required",
	"email.email":       "Please provide a valid email address",
	"email.max":         "Email is too long",
	"password.required": "Password is required",
	"password.min":      "Password must be at least 8 characters",
	"password.max":      "Password must be 72 characters or fewer",
	"name.required":     "Name is required",
	"name.min":          "Name must be at least 2 characters",
	"name.max":          "Name must be 50 characters or fewer",
	"text.required":     "Message cannot be empty",
	"text.max":          "Message must be 1000 characters or fewer",
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Register normalizes and validates a registration payload in place.
func Register(req *RegisterRequest) error {
	req.Email = normalize.Email(req.Email)
	req.Name = normalize.Name(req.Name)
	return check(req)
}

// Login normalizes and validates a login payload in place.
func Login(req *LoginRequest) error {
	req.Email = normalize.Email(req.Email)
	return check(req)
}

// Message trims and validates a chat message payload in place.
func Message(req *MessageRequest) error {
	req.Text = normalize.Text(req.Text)
	return check(req)
}

// check returns the first failing rule in field declaration order.
func check(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("", "Invalid payload")
	}

	fe := fieldErrs[0]
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return apperr.Validation(fe.Field(), msg)
	}
	return apperr.Validation(fe.Field(), "Invalid "+fe.Field())
}
