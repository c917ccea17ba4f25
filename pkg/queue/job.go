package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Job consumes the messages of one type. The payload is the JSON that
// Enqueue wrote, so a job sees the same bytes whether it runs on a worker or
// inline.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, Permanent(errors.New("empty payload"))
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("decode %T: %w", v, err))
	}
	return v, nil
}

// Encode renders a payload the way Enqueue stores it.
func Encode(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so the message is dead-lettered without retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}
