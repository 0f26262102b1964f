package pipeline

import "fmt"

// SinkError wraps a persistence failure during a flush. The batch is not
// re-enqueued: persistence is at-most-once per flush attempt.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink: %v", e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

// PublishError wraps a bus publish failure during a flush. It is independent
// of the persistence outcome and never rolls it back.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }
