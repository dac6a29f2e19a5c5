package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/roomchat/internal/chat"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so error messages match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Result is either a decoded value or the protocol error explaining why the
// payload was rejected.
type Result[T any] struct {
	Value T
	Err   *chat.Error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Decode parses and validates an inbound payload. Malformed JSON, unknown
// shapes and failed constraints all come back as a protocol error.
func Decode[T any](raw json.RawMessage) Result[T] {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Result[T]{Err: chat.Protocol("Malformed payload")}
	}
	if err := validate.Struct(v); err != nil {
		return Result[T]{Err: chat.Protocol(validationMessage(err))}
	}
	return Result[T]{Value: v}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid payload"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("Invalid payload: %s is required", fe.Field())
	case "max":
		return fmt.Sprintf("Invalid payload: %s is too long", fe.Field())
	case "min":
		return fmt.Sprintf("Invalid payload: %s is too short", fe.Field())
	default:
		return fmt.Sprintf("Invalid payload: %s is invalid", fe.Field())
	}
}
