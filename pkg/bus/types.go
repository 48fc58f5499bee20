package bus

// Attachment is a media item carried by an inbound message.
type Attachment struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	FileName  string `json:"file_name,omitempty"`
	// Ref identifies the file without exposing credentials. Dialog variables
	// bind Ref instead of URL when it is set.
	Ref string `json:"ref,omitempty"`
}

// Suggestion is a quick-reply option offered with an outbound message.
type Suggestion struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type InboundMessage struct {
	Channel     string            `json:"channel"`
	Bot         string            `json:"bot"`
	SenderID    string            `json:"sender_id"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	SessionKey  string            `json:"session_key"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Channel    string `json:"channel"`
	ChatID     string `json:"chat_id"`
	SessionKey string `json:"session_key,omitempty"`
	// Content is Messages joined with blank lines, for transports that send
	// a single text.
	Content     string            `json:"content"`
	Messages    []string          `json:"messages,omitempty"`
	Suggestions []Suggestion      `json:"suggestions,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
