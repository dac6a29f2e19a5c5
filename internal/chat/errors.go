package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/roomchat/internal/storage"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindTransient    Kind = "transient"
	KindProtocol     Kind = "protocol"
)

// Error is the domain error reported to the acting session.
// Message is safe to show to the client; Err is the cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(msg string) *Error  { return &Error{Kind: KindNotFound, Message: msg} }
func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }
func Protocol(msg string) *Error  { return &Error{Kind: KindProtocol, Message: msg} }

// Transient wraps a store failure behind a generic client message.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

var (
	ErrProfileNotFound = NotFound("Profile not found")
	ErrRoomNotFound    = NotFound("Room not found")
	ErrMessageNotFound = NotFound("Message not found")
)

// KindOf returns the kind of err, treating unknown errors as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// ClientMessage is the text sent in the error event for err.
func ClientMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// storeErr maps a store error: ErrNotFound becomes notFound, anything else a
// transient failure with the generic message.
func storeErr(err error, notFound *Error, generic string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFound
	}
	return Transient(generic, err)
}

// retryRead runs an idempotent read, retrying once on a transient failure.
func retryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
		return v, err
	}
	return fn(ctx)
}
