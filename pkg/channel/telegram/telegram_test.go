package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"botserver/pkg/bus"
	"botserver/pkg/config"
)

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestSessionKey(t *testing.T) {
	if got := sessionKey(" 42 "); got != "telegram:42" {
		t.Fatalf("sessionKey = %q, want %q", got, "telegram:42")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

type fakeFiles struct {
	missing map[string]bool
}

func (f fakeFiles) GetFile(_ context.Context, params *telego.GetFileParams) (*telego.File, error) {
	if f.missing[params.FileID] {
		return nil, errors.New("file not found")
	}
	return &telego.File{FileID: params.FileID, FilePath: "files/" + params.FileID}, nil
}

func (fakeFiles) FileDownloadURL(filepath string) string {
	return "https://files.example/" + filepath
}

func TestExtractAttachmentsUsesLargestPhotoAndDefaults(t *testing.T) {
	message := &telego.Message{
		Caption: " look ",
		Photo: []telego.PhotoSize{
			{FileID: "small"},
			{FileID: "large"},
		},
		Voice:    &telego.Voice{FileID: "voice"},
		Video:    &telego.Video{FileID: "clip", MimeType: "video/webm", FileName: "clip.webm"},
		Document: &telego.Document{FileID: "doc", FileName: "invoice.pdf", MimeType: "application/pdf"},
	}

	attachments, err := extractAttachments(context.Background(), fakeFiles{}, message)
	require.NoError(t, err)
	require.Equal(t, []bus.Attachment{
		{URL: "https://files.example/files/large", MediaType: "image/jpeg", Ref: "large"},
		{URL: "https://files.example/files/voice", MediaType: "audio/ogg", Ref: "voice"},
		{URL: "https://files.example/files/clip", MediaType: "video/webm", FileName: "clip.webm", Ref: "clip"},
		{URL: "https://files.example/files/doc", MediaType: "application/pdf", FileName: "invoice.pdf", Ref: "doc"},
	}, attachments)
	require.Equal(t, "look", messageContent(message))
}

func TestExtractAttachmentsKeepsResolvedOnError(t *testing.T) {
	message := &telego.Message{
		Audio:    &telego.Audio{FileID: "song"},
		Document: &telego.Document{FileID: "gone"},
	}

	attachments, err := extractAttachments(context.Background(), fakeFiles{missing: map[string]bool{"gone": true}}, message)
	require.Error(t, err)
	require.Equal(t, []bus.Attachment{{URL: "https://files.example/files/song", MediaType: "audio/mpeg", Ref: "song"}}, attachments)
}

func TestMessageContentPrefersText(t *testing.T) {
	if got := messageContent(&telego.Message{Text: " hi ", Caption: "cap"}); got != "hi" {
		t.Fatalf("messageContent = %q, want %q", got, "hi")
	}
}

func TestReplyMarkup(t *testing.T) {
	if _, ok := replyMarkup(nil).(*telego.ReplyKeyboardRemove); !ok {
		t.Fatalf("replyMarkup(nil) = %T, want *telego.ReplyKeyboardRemove", replyMarkup(nil))
	}

	markup, ok := replyMarkup([]bus.Suggestion{{Text: "Small", Value: "S"}, {Text: "Large", Value: "L"}}).(*telego.ReplyKeyboardMarkup)
	if !ok {
		t.Fatal("expected reply keyboard markup")
	}
	require.True(t, markup.OneTimeKeyboard)
	require.Len(t, markup.Keyboard, 2)
	require.Equal(t, "L", markup.Keyboard[1][0].Text)
}

func TestReplyTexts(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, replyTexts(bus.OutboundMessage{Messages: []string{"a", " ", "b"}, Content: "a\n\nb"}))
	require.Equal(t, []string{"only"}, replyTexts(bus.OutboundMessage{Content: "only"}))
	require.Equal(t, []string{"boom"}, replyTexts(bus.OutboundMessage{Error: "boom"}))
	require.Empty(t, replyTexts(bus.OutboundMessage{}))
}

func TestNewAdapterRequiresTokenAndBot(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, "support", nil)
	require.Error(t, err)

	_, err = NewAdapter(config.TelegramConfig{Token: "t"}, " ", nil)
	require.Error(t, err)

	adapter, err := NewAdapter(config.TelegramConfig{Token: "t", AllowFrom: []string{"7"}}, "support", nil)
	require.NoError(t, err)
	require.Equal(t, "telegram", adapter.Name())
	require.True(t, adapter.senderAllowed("7"))
}
