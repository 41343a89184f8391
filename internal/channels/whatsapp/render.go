package whatsapp

import (
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

// Cloud API limits for interactive messages.
const (
	maxButtons           = 3
	maxButtonTitle       = 20
	maxListRows          = 10
	maxListSections      = 10
	maxRowTitle          = 24
	maxRowDescription    = 72
	maxSectionTitle      = 24
	maxHeaderText        = 60
	maxInteractiveBody   = 1024
	maxTextBody          = 4096
	defaultListButtonTxt = "View options"
)

// BuildRequest renders a channel-neutral reply as a Cloud API request. Button menus with more
// than three options become lists, and lists are cut to ten rows.
func BuildRequest(to string, reply conversation.Reply) SendRequest {
	req := SendRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}
	options := reply.Options()

	switch {
	case reply.Kind == conversation.ReplyButtonMenu && len(options) > 0 && len(options) <= maxButtons:
		req.Type = "interactive"
		req.Interactive = &OutboundInteractive{
			Type:   "button",
			Header: header(reply.Header),
			Body:   BodyText{Text: truncate(reply.Body, maxInteractiveBody)},
			Action: InteractiveAction{Buttons: buttons(options)},
		}
	case (reply.Kind == conversation.ReplyButtonMenu || reply.Kind == conversation.ReplyListMenu) && len(options) > 0:
		label := reply.ButtonLabel
		if label == "" {
			label = defaultListButtonTxt
		}
		req.Type = "interactive"
		req.Interactive = &OutboundInteractive{
			Type:   "list",
			Header: header(reply.Header),
			Body:   BodyText{Text: truncate(reply.Body, maxInteractiveBody)},
			Action: InteractiveAction{Button: truncate(label, maxButtonTitle), Sections: sections(reply.Sections)},
		}
	default:
		req.Type = "text"
		req.Text = &OutboundText{Body: truncate(reply.Body, maxTextBody)}
	}
	return req
}

func header(text string) *Header {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &Header{Type: "text", Text: truncate(text, maxHeaderText)}
}

func buttons(options []conversation.Option) []ReplyButton {
	out := make([]ReplyButton, 0, len(options))
	for _, opt := range options {
		out = append(out, ReplyButton{
			Type:  "reply",
			Reply: ReplyItem{ID: opt.ID, Title: truncate(opt.Title, maxButtonTitle)},
		})
	}
	return out
}

// sections keeps section order and drops rows past the list limit. Empty sections are skipped.
func sections(in []conversation.Section) []ListSection {
	remaining := maxListRows
	out := make([]ListSection, 0, len(in))
	for _, sec := range in {
		if remaining == 0 || len(out) == maxListSections {
			break
		}
		rows := make([]ListRow, 0, len(sec.Options))
		for _, opt := range sec.Options {
			if remaining == 0 {
				break
			}
			rows = append(rows, ListRow{
				ID:          opt.ID,
				Title:       truncate(opt.Title, maxRowTitle),
				Description: truncate(opt.Description, maxRowDescription),
			})
			remaining--
		}
		if len(rows) == 0 {
			continue
		}
		out = append(out, ListSection{Title: truncate(sec.Title, maxSectionTitle), Rows: rows})
	}
	// multi-section lists require a title on every section
	if len(out) > 1 {
		for i := range out {
			if out[i].Title == "" {
				out[i].Title = "Options"
			}
		}
	}
	return out
}

// truncate shortens s to at most limit runes, ending with an ellipsis when cut.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
