// Package store persists dialog runs and conversation transcripts.
package store

import (
	"context"
	"time"

	"botserver/pkg/script"
)

// Run is the durable state of one dialog run in a session.
type Run struct {
	SessionID string
	Bot       string
	Dialog    string
	State     script.State
	// Pending is the variable of the HEAR the run is suspended on.
	Pending   string
	Answers   []script.Answer
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Direction tells whether a transcript line came from the user or the bot.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// TranscriptEntry is one line of a conversation.
type TranscriptEntry struct {
	ID        int64
	SessionID string
	Bot       string
	Direction Direction
	Text      string
	CreatedAt time.Time
}

// Repository defines how dialog runs and transcripts are persisted.
type Repository interface {
	// GetRun returns the run of a session, or nil when there is none.
	GetRun(ctx context.Context, sessionID string) (*Run, error)

	// SaveRun creates or replaces the run of a session.
	SaveRun(ctx context.Context, run *Run) error

	// DeleteRun removes the run of a session. Deleting a missing run is not an error.
	DeleteRun(ctx context.Context, sessionID string) error

	AppendTranscript(ctx context.Context, entry TranscriptEntry) error

	// Transcript returns the most recent entries of a session, oldest first.
	Transcript(ctx context.Context, sessionID string, limit int) ([]TranscriptEntry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	Close() error
}
