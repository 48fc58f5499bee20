package hear

import (
	"errors"
	"fmt"

	"botserver/pkg/dialog/inputtype"
)

var (
	// ErrWaitingForInput is the suspension signal every HEAR form returns
	// after publishing its wait. It ends the current turn and is never shown
	// to users or logged as a failure.
	ErrWaitingForInput = errors.New("waiting for user input")

	// ErrNoPendingWait means there is nothing to resume for the session and
	// variable, so the message is a fresh command.
	ErrNoPendingWait = errors.New("no pending wait")

	// ErrUseTypedForm is returned by the menu form when its option text names
	// an input type.
	ErrUseTypedForm = errors.New("option list names an input type, use HEAR variable AS TYPE")

	// ErrEmptyMenu is returned by the menu form when no options remain.
	ErrEmptyMenu = errors.New("menu requires at least one option")
)

// IsSuspension reports whether err is the HEAR suspension signal.
func IsSuspension(err error) bool {
	return errors.Is(err, ErrWaitingForInput)
}

// InputError is a rejected answer. Message is safe to show to the user; the
// wait stays pending so the user can try again.
type InputError struct {
	Kind    inputtype.Kind
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *InputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newInputError(kind inputtype.Kind, message string, cause error) error {
	if message == "" {
		message = kind.ErrorMessage()
	}
	return &InputError{Kind: kind, Message: message, Err: cause}
}

// UserMessage returns the user-facing text of an input error, or "" when err
// is not one.
func UserMessage(err error) string {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr.Message
	}
	return ""
}
