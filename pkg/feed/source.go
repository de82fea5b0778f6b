package feed

import (
	"context"
	"errors"
	"fmt"
)

// ErrStreamClosed is returned by Stream.Next once the stream was closed by its owner.
var ErrStreamClosed = errors.New("feed: stream closed")

// Source opens one-way subscriptions to an external event stream.
type Source interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

// Stream yields raw serialized findings in arrival order.
// Next blocks until a message arrives, the stream fails or ctx is done.
// Close releases the underlying resource and must be safe to call more than once.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Publisher writes serialized findings onto a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

const topicPrefix = "audit:findings:"

// TopicForUser is the stream topic carrying one user's findings.
func TopicForUser(userID string) string {
	return topicPrefix + userID
}

// TransportError reports that the underlying stream failed or closed unexpectedly.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feed transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DiagnosticError reports a discarded inbound message. The subscription stays active.
type DiagnosticError struct {
	Size int
	Err  error
}

func (e *DiagnosticError) Error() string {
	return fmt.Sprintf("feed: discarded malformed message (%d bytes): %v", e.Size, e.Err)
}

func (e *DiagnosticError) Unwrap() error { return e.Err }
