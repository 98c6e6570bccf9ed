package feed

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDataIntegrity marks conversations whose stored shape is invalid,
	// e.g. a participant count other than two. Not retried.
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrDetached      = errors.New("synchronizer detached")
	ErrEmptyMessage  = errors.New("message text is empty")
)

// TransientFetchError wraps backend or network failures on the read path.
// Local state is left untouched when one is returned.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

func (e *TransientFetchError) Cause() error { return e.Err }

// SendError reports which step of a send failed. When Stage is
// StageRecipientSummary or StageSenderSummary the message itself was stored.
type SendError struct {
	ConversationID string
	Stage          string
	Err            error
}

const (
	StageValidate         = "validate"
	StageResolve          = "resolve_recipient"
	StageInsert           = "insert"
	StageRecipientSummary = "recipient_summary"
	StageSenderSummary    = "sender_summary"
	StageAtomic           = "atomic_send"
)

func (e *SendError) Error() string {
	return fmt.Sprintf("send to conversation %s failed at %s: %v", e.ConversationID, e.Stage, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Cause() error { return e.Err }

// MessageStored reports whether the message reached the store before the
// failure.
func (e *SendError) MessageStored() bool {
	return e.Stage == StageRecipientSummary || e.Stage == StageSenderSummary
}

// IsDataIntegrity reports whether err stems from an invalid conversation shape.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

// IsTransient reports whether err is a recoverable fetch failure.
func IsTransient(err error) bool {
	var tfe *TransientFetchError
	return errors.As(err, &tfe)
}
