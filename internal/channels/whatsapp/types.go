package whatsapp

// WebhookEvent is the top-level structure Meta posts for a WhatsApp Business account.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single webhook change; only field "messages" is handled.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries messages and delivery statuses for one business phone number.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to inbound messages.
type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// Profile holds the sender's WhatsApp display name.
type Profile struct {
	Name string `json:"name"`
}

// Message is one inbound WhatsApp message.
type Message struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextBody           `json:"text,omitempty"`
	Interactive *InteractiveInbound `json:"interactive,omitempty"`
	Button      *TemplateButton     `json:"button,omitempty"`
}

// TextBody is the body of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// InteractiveInbound is a button or list selection.
type InteractiveInbound struct {
	Type        string     `json:"type"`
	ButtonReply *ReplyItem `json:"button_reply,omitempty"`
	ListReply   *ReplyItem `json:"list_reply,omitempty"`
}

// ReplyItem is the selected button or list row.
type ReplyItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TemplateButton is a quick-reply button tapped on a template message.
type TemplateButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Status is a delivery receipt for an outbound message. Receipts are acknowledged and ignored.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// SendRequest is the Cloud API body for POST /{phone-number-id}/messages.
type SendRequest struct {
	MessagingProduct string               `json:"messaging_product"`
	RecipientType    string               `json:"recipient_type,omitempty"`
	To               string               `json:"to"`
	Type             string               `json:"type"`
	Text             *OutboundText        `json:"text,omitempty"`
	Interactive      *OutboundInteractive `json:"interactive,omitempty"`
}

// OutboundText is a plain text body.
type OutboundText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// OutboundInteractive is a button or list message.
type OutboundInteractive struct {
	Type   string            `json:"type"`
	Header *Header           `json:"header,omitempty"`
	Body   BodyText          `json:"body"`
	Action InteractiveAction `json:"action"`
}

// Header is an optional text header.
type Header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BodyText is the main text of an interactive message.
type BodyText struct {
	Text string `json:"text"`
}

// InteractiveAction holds reply buttons or a list with its opening button label.
type InteractiveAction struct {
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
}

// ReplyButton is one of up to three reply buttons.
type ReplyButton struct {
	Type  string    `json:"type"`
	Reply ReplyItem `json:"reply"`
}

// ListSection groups list rows.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable list entry.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendResponse is the Cloud API answer to a send.
type SendResponse struct {
	MessagingProduct string         `json:"messaging_product"`
	Contacts         []ContactInput `json:"contacts,omitempty"`
	Messages         []MessageRef   `json:"messages,omitempty"`
	Error            *SendError     `json:"error,omitempty"`
}

// ContactInput echoes the recipient.
type ContactInput struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

// MessageRef carries the provider message id of a sent message.
type MessageRef struct {
	ID string `json:"id"`
}

// SendError represents an error returned by the Graph API.
type SendError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}
