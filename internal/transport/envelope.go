package transport

import "time"

// ContentKind tags the active variant of a message Content.
type ContentKind string

const (
	KindConversation    ContentKind = "conversation"
	KindExtendedText    ContentKind = "extendedText"
	KindImage           ContentKind = "image"
	KindVideo           ContentKind = "video"
	KindAudio           ContentKind = "audio"
	KindDocument        ContentKind = "document"
	KindSticker         ContentKind = "sticker"
	KindEphemeral       ContentKind = "ephemeral"
	KindViewOnce        ContentKind = "viewOnce"
	KindListResponse    ContentKind = "listResponse"
	KindButtonsResponse ContentKind = "buttonsResponse"
	KindTemplateReply   ContentKind = "templateReply"
	KindReaction        ContentKind = "reaction"
	KindProtocol        ContentKind = "protocol"
	KindUnknown         ContentKind = "unknown"
)

// Envelope is a raw inbound message exactly as the transport delivered
// it. Sender identities are opaque until the resolver canonicalizes them.
type Envelope struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chat_jid"`   // origin endpoint (user, group or status)
	SenderJID string    `json:"sender_jid"` // opaque sender identity
	FromMe    bool      `json:"from_me"`
	PushName  string    `json:"push_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Content   *Content  `json:"content"`
}

// Content is a tagged variant. Exactly one of the payload fields is
// populated for the variant named by Kind; wrapper kinds carry Inner.
type Content struct {
	Kind ContentKind `json:"kind"`

	Conversation  string         `json:"conversation,omitempty"`
	Text          *TextContent   `json:"text,omitempty"`
	Media         *MediaContent  `json:"media,omitempty"`
	Inner         *Content       `json:"inner,omitempty"` // ephemeral / viewOnce payload
	ListReply     *ListReply     `json:"list_reply,omitempty"`
	ButtonsReply  *ButtonsReply  `json:"buttons_reply,omitempty"`
	TemplateReply *TemplateReply `json:"template_reply,omitempty"`
	Reaction      *Reaction      `json:"reaction,omitempty"`

	Context *ContextInfo `json:"context,omitempty"`
}

// TextContent is the extendedText variant payload.
type TextContent struct {
	Text string `json:"text"`
}

// MediaContent is shared by the image/video/audio/document/sticker variants.
type MediaContent struct {
	Caption string    `json:"caption,omitempty"`
	Ref     *MediaRef `json:"ref,omitempty"`
}

// ListReply carries the row selected from a list message.
type ListReply struct {
	SelectedRowID string `json:"selected_row_id"`
	Title         string `json:"title,omitempty"`
}

// ButtonsReply carries the pressed button of a buttons message.
type ButtonsReply struct {
	SelectedButtonID string `json:"selected_button_id"`
}

// TemplateReply carries the pressed quick-reply of a template message.
type TemplateReply struct {
	SelectedID string `json:"selected_id"`
}

// Reaction is an emoji keyed to another message.
type Reaction struct {
	Emoji     string `json:"emoji"`
	TargetID  string `json:"target_id"`
	TargetJID string `json:"target_jid,omitempty"`
}

// ContextInfo carries reply and mention metadata for a content variant.
type ContextInfo struct {
	StanzaID      string   `json:"stanza_id,omitempty"`   // id of the quoted message
	Participant   string   `json:"participant,omitempty"` // sender of the quoted message (opaque)
	Quoted        *Content `json:"quoted,omitempty"`
	MentionedJIDs []string `json:"mentioned_jids,omitempty"`
}
