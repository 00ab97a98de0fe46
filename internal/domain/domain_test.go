package domain

import "testing"

func TestSourceTypeValid(t *testing.T) {
	for _, st := range []SourceType{SourceURL, SourcePDF, SourceFAQ, SourceText} {
		if !st.Valid() {
			t.Errorf("%q should be valid", st)
		}
	}
	if SourceType("docx").Valid() {
		t.Error("docx should not be valid")
	}
}

func TestGapStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to GapStatus
		want     bool
	}{
		{GapOpen, GapInProgress, true},
		{GapOpen, GapResolved, true},
		{GapOpen, GapDismissed, true},
		{GapInProgress, GapOpen, true},
		{GapInProgress, GapResolved, true},
		{GapResolved, GapOpen, false},
		{GapDismissed, GapInProgress, false},
		{GapOpen, GapOpen, false},
		{GapOpen, GapStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestGapStatusMatchable(t *testing.T) {
	want := map[GapStatus]bool{GapOpen: true, GapInProgress: true, GapResolved: false, GapDismissed: false}
	for s, w := range want {
		if s.Matchable() != w {
			t.Errorf("%s.Matchable() = %v, want %v", s, !w, w)
		}
	}
}

func TestConversationStatusValid(t *testing.T) {
	if !ConversationEscalated.Valid() || ConversationStatus("paused").Valid() {
		t.Error("unexpected ConversationStatus.Valid result")
	}
}
