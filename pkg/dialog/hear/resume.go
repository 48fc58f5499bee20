package hear

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"botserver/pkg/dialog/inputtype"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/media"
	"botserver/pkg/session"
)

// Attachment is a media reference carried by an incoming message.
type Attachment struct {
	URL       string
	MediaType string
	Ref       string
}

// reference is the value bound to a variable for this attachment.
func (a Attachment) reference() string {
	if a.Ref != "" {
		return a.Ref
	}
	return a.URL
}

func (a Attachment) result() inputtype.Result {
	return inputtype.Result{
		Value:    a.reference(),
		Metadata: map[string]any{"media_type": a.MediaType},
	}
}

// Message is the user reply offered to a pending wait.
type Message struct {
	Text        string
	Attachments []Attachment
}

// Resolution is the value bound to the waiting variable.
type Resolution struct {
	Variable string
	Value    string
	Metadata map[string]any
}

// MediaServices turns attachments into text. *media.Client implements it.
type MediaServices interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	DecodeQR(ctx context.Context, image []byte, mediaType string) (media.QRResult, error)
	Transcribe(ctx context.Context, audio []byte, mediaType string) (media.Transcript, error)
	DescribeVideo(ctx context.Context, video []byte, mediaType string) (media.VideoDescription, error)
}

// Resumer validates replies against pending waits and resolves them.
type Resumer struct {
	store wait.Store
	media MediaServices
	log   *slog.Logger
}

// NewResumer creates a resume processor. services may be nil when no media
// service is configured; attachment kinds needing one then fail validation.
func NewResumer(store wait.Store, services MediaServices, log *slog.Logger) *Resumer {
	if log == nil {
		log = slog.Default()
	}
	return &Resumer{
		store: store,
		media: services,
		log:   log.With("component", "hear.resume"),
	}
}

// Process resolves the wait for variable with msg. It returns
// ErrNoPendingWait when no live descriptor exists, an *InputError when msg
// does not satisfy the wait (the wait stays pending), or the resolution after
// deleting the descriptor.
func (r *Resumer) Process(ctx context.Context, scope *session.Scope, variable string, msg Message) (Resolution, error) {
	variable = strings.ToLower(strings.TrimSpace(variable))

	d, err := r.store.Get(ctx, scope.ID(), variable)
	if errors.Is(err, wait.ErrNotFound) {
		scope.ClearWaiting()
		return Resolution{}, ErrNoPendingWait
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load wait for %s: %w", variable, err)
	}

	result, err := r.validate(ctx, d, msg)
	if err != nil {
		r.log.Debug("Input rejected",
			"session_id", scope.ID(),
			"variable", variable,
			"kind", d.Type.Kind().String(),
			"error", err,
		)
		return Resolution{}, err
	}

	removed, err := r.store.Delete(ctx, scope.ID(), variable)
	if err != nil {
		return Resolution{}, fmt.Errorf("clear wait for %s: %w", variable, err)
	}
	if !removed {
		// Expired or resolved by a concurrent reply while we validated.
		return Resolution{}, ErrNoPendingWait
	}
	scope.ClearWaiting()

	r.log.Debug("Wait resolved", "session_id", scope.ID(), "variable", variable, "kind", d.Type.Kind().String())
	return Resolution{Variable: variable, Value: result.Value, Metadata: result.Metadata}, nil
}

// RecordFailure counts one rejected answer and returns the updated
// descriptor so the caller can check Exhausted.
func (r *Resumer) RecordFailure(ctx context.Context, scope *session.Scope, variable string) (wait.Descriptor, error) {
	d, err := r.store.IncrementRetry(ctx, scope.ID(), strings.ToLower(variable))
	if errors.Is(err, wait.ErrNotFound) {
		return wait.Descriptor{}, ErrNoPendingWait
	}
	return d, err
}

// Abandon drops the wait and the session flag.
func (r *Resumer) Abandon(ctx context.Context, scope *session.Scope, variable string) error {
	scope.ClearWaiting()
	if _, err := r.store.Delete(ctx, scope.ID(), strings.ToLower(variable)); err != nil {
		return fmt.Errorf("abandon wait for %s: %w", variable, err)
	}
	return nil
}

func (r *Resumer) validate(ctx context.Context, d wait.Descriptor, msg Message) (inputtype.Result, error) {
	kind := d.Type.Kind()

	switch kind {
	case inputtype.Image:
		attachment, ok := firstWithPrefix(msg.Attachments, "image/")
		if !ok {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		return attachment.result(), nil

	case inputtype.QrCode:
		attachment, ok := firstWithPrefix(msg.Attachments, "image/")
		if !ok {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		return r.decodeQR(ctx, attachment)

	case inputtype.Audio:
		attachment, ok := firstWithPrefix(msg.Attachments, "audio/")
		if !ok {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		return r.transcribe(ctx, attachment)

	case inputtype.Video:
		attachment, ok := firstWithPrefix(msg.Attachments, "video/")
		if !ok {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		return r.describeVideo(ctx, attachment)

	case inputtype.File, inputtype.Document:
		if len(msg.Attachments) == 0 {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		return msg.Attachments[0].result(), nil

	case inputtype.Menu:
		result, err := inputtype.ValidateMenu(msg.Text, d.Type.Options())
		if err != nil {
			return inputtype.Result{}, newInputError(kind, inputtype.MessageFromError(err), nil)
		}
		return result, nil

	case inputtype.Any, inputtype.Login:
		if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) > 0 {
			return msg.Attachments[0].result(), nil
		}
		return inputtype.Validate(kind, msg.Text)

	default:
		if strings.TrimSpace(msg.Text) == "" {
			return inputtype.Result{}, newInputError(kind, "", nil)
		}
		result, err := inputtype.Validate(kind, msg.Text)
		if err != nil {
			return inputtype.Result{}, newInputError(kind, inputtype.MessageFromError(err), nil)
		}
		return result, nil
	}
}

func firstWithPrefix(attachments []Attachment, prefix string) (Attachment, bool) {
	for _, attachment := range attachments {
		if strings.HasPrefix(strings.ToLower(attachment.MediaType), prefix) {
			return attachment, true
		}
	}
	return Attachment{}, false
}

func (r *Resumer) fetch(ctx context.Context, kind inputtype.Kind, attachment Attachment, failure string) ([]byte, error) {
	if r.media == nil {
		return nil, newInputError(kind, failure, media.ErrNotConfigured)
	}
	data, err := r.media.Fetch(ctx, attachment.URL)
	if err != nil {
		return nil, newInputError(kind, failure, err)
	}
	return data, nil
}

func (r *Resumer) decodeQR(ctx context.Context, attachment Attachment) (inputtype.Result, error) {
	const failure = "Could not read a QR code in that image. Please send a clearer picture"

	data, err := r.fetch(ctx, inputtype.QrCode, attachment, failure)
	if err != nil {
		return inputtype.Result{}, err
	}
	decoded, err := r.media.DecodeQR(ctx, data, attachment.MediaType)
	if err != nil {
		return inputtype.Result{}, newInputError(inputtype.QrCode, failure, err)
	}
	return inputtype.Result{Value: decoded.Text, Metadata: decoded.Raw}, nil
}

func (r *Resumer) transcribe(ctx context.Context, attachment Attachment) (inputtype.Result, error) {
	const failure = "Could not understand the audio. Please try again"

	data, err := r.fetch(ctx, inputtype.Audio, attachment, failure)
	if err != nil {
		return inputtype.Result{}, err
	}
	transcript, err := r.media.Transcribe(ctx, data, attachment.MediaType)
	if err != nil {
		return inputtype.Result{}, newInputError(inputtype.Audio, failure, err)
	}
	return inputtype.Result{
		Value: transcript.Text,
		Metadata: map[string]any{
			"language":   transcript.Language,
			"confidence": transcript.Confidence,
		},
	}, nil
}

func (r *Resumer) describeVideo(ctx context.Context, attachment Attachment) (inputtype.Result, error) {
	const failure = "Could not process the video. Please try again"

	data, err := r.fetch(ctx, inputtype.Video, attachment, failure)
	if err != nil {
		return inputtype.Result{}, err
	}
	description, err := r.media.DescribeVideo(ctx, data, attachment.MediaType)
	if err != nil {
		return inputtype.Result{}, newInputError(inputtype.Video, failure, err)
	}
	return inputtype.Result{
		Value:    description.Description,
		Metadata: map[string]any{"frame_count": description.FrameCount},
	}, nil
}
