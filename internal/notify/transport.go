package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Transport delivers a text message to a phone number.
type Transport interface {
	Send(ctx context.Context, phone, message string) (deliveryID string, err error)
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	Transient ErrorKind = "TRANSIENT"
	Permanent ErrorKind = "PERMANENT"
)

// TransportError is a classified failure from a Transport.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransientError wraps err as retryable.
func TransientError(err error) error {
	return &TransportError{Kind: Transient, Err: err}
}

// PermanentError wraps err as non-retryable.
func PermanentError(err error) error {
	return &TransportError{Kind: Permanent, Err: err}
}

// IsPermanent reports whether err must not be retried. Unclassified errors are treated
// as transient.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == Permanent
}

// LogTransport only logs messages. It is used when no messaging channel is configured.
type LogTransport struct {
	Logger *slog.Logger
}

// Send logs the message and returns a synthetic delivery id.
func (t LogTransport) Send(ctx context.Context, phone, message string) (string, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := "log-" + uuid.NewString()
	logger.InfoContext(ctx, "notification not sent, no transport configured",
		slog.String("phone", phone),
		slog.Int("length", len(message)),
		slog.String("delivery_id", id))
	return id, nil
}
