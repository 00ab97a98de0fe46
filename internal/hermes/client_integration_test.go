//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_EscalationEventRoundTrip(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	logger := slog.Default()

	client, err := NewClient(context.Background(), natsURL, "", logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if !client.Connected() {
		t.Fatal("expected client to be connected")
	}

	received := make(chan ConversationEscalated, 1)
	err = client.Subscribe("sage.conversation.>", func(subject string, data []byte) {
		if subject != SubjectConversationEscalated {
			return
		}
		var ev ConversationEscalated
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Errorf("decode escalation: %v", err)
			return
		}
		received <- ev
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	want := ConversationEscalated{
		TenantID:       uuid.NewString(),
		ConversationID: uuid.NewString(),
		Reason:         "low_confidence",
		Confidence:     0.42,
	}
	Emit(client, logger, SubjectConversationEscalated, want)

	select {
	case got := <-received:
		if got != want {
			t.Errorf("escalation = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for escalation event")
	}
}
