package bots

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	ErrorInvalidName     = "invalid_name"
	ErrorOutsideRoot     = "outside_root"
	ErrorBotNotFound     = "bot_not_found"
	ErrorDialogNotFound  = "dialog_not_found"
	ErrorInvalidManifest = "invalid_manifest"
	ErrorPermission      = "permission_denied"
	ErrorIO              = "io_error"
)

// Error is a categorized bot loading failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorBotNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermission
	}
	return ErrorIO
}

// normalizeIOError keeps os.PathError details out of categorized errors.
func normalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if category == ErrorPermission {
		return NewError(category, "operation not permitted")
	}
	if detail == "" {
		detail = err.Error()
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && category == ErrorIO {
		return NewError(category, fmt.Sprintf("%s: %s", detail, pathErr.Err))
	}
	return NewError(category, detail)
}
