package hermes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestParseSourceChanged(t *testing.T) {
	id := uuid.New()
	got, err := ParseSourceChanged([]byte(`{"source_id": "` + id.String() + `"}`))
	if err != nil {
		t.Fatalf("ParseSourceChanged: %v", err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
}

func TestParseSourceChanged_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing id", `{}`},
		{"bad uuid", `{"source_id": "abc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSourceChanged([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSweepCompletedJSON(t *testing.T) {
	data, err := json.Marshal(SweepCompleted{ConversationsProcessed: 4, QACached: 1, GapsFound: 2, GapsUpdated: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"conversations_processed", "qa_cached", "gaps_found", "gaps_updated", "failed", "duration_ms"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

type recordingPublisher struct {
	subjects []string
	err      error
}

func (r *recordingPublisher) Publish(subject string, _ any) error {
	r.subjects = append(r.subjects, subject)
	return r.err
}

func TestEmit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	Emit(nil, logger, SubjectSourceIndexed, SourceIndexed{})

	pub := &recordingPublisher{}
	Emit(pub, logger, SubjectSourceIndexed, SourceIndexed{})
	pub.err = errors.New("down")
	Emit(pub, logger, SubjectSourceFailed, SourceFailed{})

	if len(pub.subjects) != 2 || pub.subjects[1] != SubjectSourceFailed {
		t.Errorf("subjects = %v", pub.subjects)
	}
}
