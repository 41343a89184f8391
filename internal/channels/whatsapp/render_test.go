package whatsapp

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

func TestBuildRequestButtons(t *testing.T) {
	reply := conversation.Reply{
		Kind: conversation.ReplyButtonMenu,
		Body: "Hi Ana! How can I help you today?",
		Sections: []conversation.Section{{Options: []conversation.Option{
			{ID: "menu_book_appointment", Title: "Book an appointment today"},
			{ID: "menu_view_services", Title: "Services"},
		}}},
	}
	req := BuildRequest("1555", reply)

	require.Equal(t, "interactive", req.Type)
	require.Equal(t, "button", req.Interactive.Type)
	require.Len(t, req.Interactive.Action.Buttons, 2)
	first := req.Interactive.Action.Buttons[0]
	require.Equal(t, "reply", first.Type)
	require.Equal(t, "menu_book_appointment", first.Reply.ID)
	require.LessOrEqual(t, utf8.RuneCountInString(first.Reply.Title), maxButtonTitle)
	require.True(t, strings.HasSuffix(first.Reply.Title, "…"))
}

func TestBuildRequestTooManyButtonsBecomesList(t *testing.T) {
	var opts []conversation.Option
	for i := 0; i < 4; i++ {
		opts = append(opts, conversation.Option{ID: fmt.Sprintf("o%d", i), Title: "Option"})
	}
	req := BuildRequest("1555", conversation.Reply{Kind: conversation.ReplyButtonMenu, Body: "Pick", Sections: []conversation.Section{{Options: opts}}})

	require.Equal(t, "list", req.Interactive.Type)
	require.Equal(t, defaultListButtonTxt, req.Interactive.Action.Button)
	require.Len(t, req.Interactive.Action.Sections[0].Rows, 4)
}

func TestBuildRequestListLimits(t *testing.T) {
	var morning, afternoon []conversation.Option
	for i := 0; i < 8; i++ {
		morning = append(morning, conversation.Option{ID: fmt.Sprintf("m%d", i), Title: "Wed 9:00 AM", Description: strings.Repeat("d", 100)})
		afternoon = append(afternoon, conversation.Option{ID: fmt.Sprintf("a%d", i), Title: "Wed 2:00 PM"})
	}
	reply := conversation.Reply{
		Kind:        conversation.ReplyListMenu,
		Header:      "Available times",
		Body:        "Here are the open slots",
		ButtonLabel: "Choose a time",
		Sections: []conversation.Section{
			{Title: "Morning", Options: morning},
			{Title: "Afternoon", Options: afternoon},
		},
	}
	req := BuildRequest("1555", reply)

	sections := req.Interactive.Action.Sections
	require.Len(t, sections, 2)
	require.Len(t, sections[0].Rows, 8)
	require.Len(t, sections[1].Rows, 2)
	require.LessOrEqual(t, utf8.RuneCountInString(sections[0].Rows[0].Description), maxRowDescription)
	require.Equal(t, "Choose a time", req.Interactive.Action.Button)
	require.Equal(t, "Available times", req.Interactive.Header.Text)
}

func TestBuildRequestPlainText(t *testing.T) {
	req := BuildRequest("1555", conversation.TextReply("You're all set."))
	require.Equal(t, "text", req.Type)
	require.Nil(t, req.Interactive)
	require.Equal(t, "You're all set.", req.Text.Body)

	empty := BuildRequest("1555", conversation.Reply{Kind: conversation.ReplyListMenu, Body: "Nothing to pick"})
	require.Equal(t, "text", empty.Type)
}
