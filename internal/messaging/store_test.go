package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

func TestStoreAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	msg := conversation.Message{
		MessageID:      "wamid.1",
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Direction:      conversation.DirectionInbound,
		Type:           "text",
		Payload:        []byte(`{"text":"hi"}`),
		Status:         conversation.StatusReceived,
		CreatedAt:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs("tenant-1", "conv-1", "inbound", "wamid.1", "text", pgxmock.AnyArg(), "", "received", 0, "", msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	res, err := store.Append(context.Background(), msg)
	if err != nil || res != conversation.WriteWritten {
		t.Fatalf("expected written, got %v err=%v", res, err)
	}

	mock.ExpectExec("INSERT INTO conversation_messages").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	res, err = store.Append(context.Background(), msg)
	if err != nil || res != conversation.WriteDuplicate {
		t.Fatalf("expected duplicate, got %v err=%v", res, err)
	}

	mock.ExpectExec("INSERT INTO conversation_messages").
		WillReturnError(errors.New("connection reset"))
	if _, err := store.Append(context.Background(), msg); !errors.Is(err, conversation.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreListMessages(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cols := []string{"message_id", "tenant_id", "conversation_id", "direction", "type", "payload", "provider_message_id", "status", "send_attempts", "error_reason", "created_at"}

	mock.ExpectQuery("SELECT message_id").
		WithArgs("tenant-1", "conv-1", 20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("wamid.1", "tenant-1", "conv-1", "inbound", "text", []byte(`{"text":"hi"}`), "", "received", 0, "", at).
			AddRow("wamid.1:reply", "tenant-1", "conv-1", "outbound", "button_menu", []byte(`{}`), "wamid.out", "sent", 1, "", at.Add(time.Second)))

	got, err := store.ListMessages(context.Background(), "tenant-1", "conv-1", 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[1].Direction != conversation.DirectionOutbound || got[1].ProviderMessageID != "wamid.out" || got[1].SendAttempts != 1 {
		t.Fatalf("unexpected outbound row %+v", got[1])
	}
	if string(got[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("unexpected payload %s", got[0].Payload)
	}
}

func TestNewStoreNilPool(t *testing.T) {
	if NewStore(nil) != nil {
		t.Fatalf("expected nil store for nil pool")
	}
}
