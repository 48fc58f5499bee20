package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"botserver/pkg/bus"
	"botserver/pkg/channel"
	"botserver/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

const (
	defaultPhotoType = "image/jpeg"
	defaultVoiceType = "audio/ogg"
	defaultAudioType = "audio/mpeg"
	defaultVideoType = "video/mp4"
	defaultFileType  = "application/octet-stream"
)

// Adapter bridges Telegram updates to one bot.
type Adapter struct {
	cfg       config.TelegramConfig
	bot       string
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// fileResolver turns Telegram file ids into download URLs.
type fileResolver interface {
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

// NewAdapter validates Telegram configuration and constructs an adapter
// serving bot.
func NewAdapter(cfg config.TelegramConfig, bot string, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}
	if strings.TrimSpace(bot) == "" {
		return nil, errors.New("channels.telegram.bot is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		bot:       bot,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram", "bot", bot),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages through the shared channel handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}
			if message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			content := messageContent(message)
			attachments, err := extractAttachments(ctx, bot, message)
			if err != nil {
				a.log.Error("Failed to resolve attachment", "error", err)
			}
			if content == "" && len(attachments) == 0 {
				continue
			}

			chatID := strconv.FormatInt(message.Chat.ID, 10)
			inbound := bus.InboundMessage{
				Channel:     channelName,
				Bot:         a.bot,
				SenderID:    senderID,
				ChatID:      chatID,
				SessionKey:  sessionKey(chatID),
				Content:     content,
				Attachments: attachments,
				Metadata: map[string]string{
					"update_id": strconv.Itoa(update.UpdateID),
				},
			}
			a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "session_key", inbound.SessionKey, "content", previewText(content), "attachments", len(attachments))

			stopTyping := a.startTypingIndicator(ctx, bot, message.Chat.ID)

			outbound, err := handler(ctx, inbound)
			stopTyping()
			if err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
				outbound = bus.OutboundMessage{Error: err.Error()}
			}

			a.deliver(ctx, bot, message.Chat.ID, outbound)
		}
	}
}

// deliver sends each reply message; suggestions ride on the last one as a
// one-time reply keyboard.
func (a *Adapter) deliver(ctx context.Context, bot *telego.Bot, chatID int64, outbound bus.OutboundMessage) {
	texts := replyTexts(outbound)
	for i, text := range texts {
		params := tu.Message(tu.ID(chatID), text)
		if i == len(texts)-1 {
			params = params.WithReplyMarkup(replyMarkup(outbound.Suggestions))
		}

		a.log.Info("Sending message", "chat_id", chatID, "content", previewText(text), "suggestions", len(outbound.Suggestions))
		if _, err := bot.SendMessage(ctx, params); err != nil {
			a.log.Error("Failed to send telegram message", "error", err)
			return
		}
	}
}

func replyTexts(outbound bus.OutboundMessage) []string {
	texts := make([]string, 0, len(outbound.Messages))
	for _, text := range outbound.Messages {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			texts = append(texts, trimmed)
		}
	}
	if len(texts) == 0 {
		if content := strings.TrimSpace(outbound.Content); content != "" {
			texts = append(texts, content)
		} else if errText := strings.TrimSpace(outbound.Error); errText != "" {
			texts = append(texts, errText)
		}
	}
	return texts
}

// replyMarkup renders suggestions as a keyboard, one option per row. Without
// suggestions any previous keyboard is removed.
func replyMarkup(suggestions []bus.Suggestion) telego.ReplyMarkup {
	if len(suggestions) == 0 {
		return tu.ReplyKeyboardRemove()
	}

	rows := make([][]telego.KeyboardButton, 0, len(suggestions))
	for _, s := range suggestions {
		rows = append(rows, tu.KeyboardRow(tu.KeyboardButton(s.Value)))
	}
	return tu.Keyboard(rows...).WithResizeKeyboard().WithOneTimeKeyboard()
}

// messageContent returns the message text, or the caption of a media message.
func messageContent(message *telego.Message) string {
	if text := strings.TrimSpace(message.Text); text != "" {
		return text
	}
	return strings.TrimSpace(message.Caption)
}

// extractAttachments resolves the media of a message into downloadable
// attachments. Photos use their largest size.
func extractAttachments(ctx context.Context, files fileResolver, message *telego.Message) ([]bus.Attachment, error) {
	type media struct {
		fileID    string
		mediaType string
		fileName  string
	}

	var items []media
	if n := len(message.Photo); n > 0 {
		items = append(items, media{fileID: message.Photo[n-1].FileID, mediaType: defaultPhotoType})
	}
	if v := message.Voice; v != nil {
		items = append(items, media{fileID: v.FileID, mediaType: orDefault(v.MimeType, defaultVoiceType)})
	}
	if au := message.Audio; au != nil {
		items = append(items, media{fileID: au.FileID, mediaType: orDefault(au.MimeType, defaultAudioType), fileName: au.FileName})
	}
	if v := message.Video; v != nil {
		items = append(items, media{fileID: v.FileID, mediaType: orDefault(v.MimeType, defaultVideoType), fileName: v.FileName})
	}
	if d := message.Document; d != nil {
		items = append(items, media{fileID: d.FileID, mediaType: orDefault(d.MimeType, defaultFileType), fileName: d.FileName})
	}

	var (
		attachments []bus.Attachment
		errs        []error
	)
	for _, item := range items {
		file, err := files.GetFile(ctx, &telego.GetFileParams{FileID: item.fileID})
		if err != nil {
			errs = append(errs, fmt.Errorf("get file %s: %w", item.fileID, err))
			continue
		}
		attachments = append(attachments, bus.Attachment{
			URL:       files.FileDownloadURL(file.FilePath),
			MediaType: item.mediaType,
			FileName:  item.fileName,
			Ref:       item.fileID,
		})
	}
	return attachments, errors.Join(errs...)
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one conversation.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
