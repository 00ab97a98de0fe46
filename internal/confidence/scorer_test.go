package confidence

import (
	"math"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

func chunksWith(sims ...float64) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, len(sims))
	for i, s := range sims {
		out[i] = domain.RetrievedChunk{Content: "chunk", Similarity: s}
	}
	return out
}

var longAnswer = strings.Repeat("Opening hours are nine to five on weekdays. ", 3)[:120]

func TestScore_NoChunks(t *testing.T) {
	for _, answer := range []string{"", "short", longAnswer} {
		if got := Score(nil, answer); got != 0.1 {
			t.Errorf("Score(nil, %q) = %v, want exactly 0.1", answer, got)
		}
	}
}

func TestScore_WorkedExample(t *testing.T) {
	if len(longAnswer) != 120 {
		t.Fatalf("answer length = %d", len(longAnswer))
	}
	got := Score(chunksWith(0.8, 0.8, 0.8, 0.8, 0.8), longAnswer)
	// 0.4*0.8 + 0.3*1.0 + 0.3*1.0
	if got != 0.92 {
		t.Errorf("Score = %v, want 0.92", got)
	}
}

func TestScore_Table(t *testing.T) {
	tests := []struct {
		name   string
		sims   []float64
		answer string
		want   float64
	}{
		{"single chunk long answer", []float64{0.5}, longAnswer, 0.2 + 0.06 + 0.3},
		{"short answer halves coherence", []float64{0.5}, "Yes.", 0.2 + 0.06 + 0.15},
		{"uncertain long answer", []float64{0.5}, longAnswer + " but I'm not sure", 0.2 + 0.06 + 0.12},
		{"short and uncertain", []float64{0.5}, "Geen idee.", 0.2 + 0.06 + 0.06},
		{"coverage saturates", []float64{1, 1, 1, 1, 1, 1, 1}, longAnswer, 1.0},
		{"zero similarity", []float64{0, 0}, longAnswer, 0.12 + 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(chunksWith(tt.sims...), tt.answer)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_Range(t *testing.T) {
	for _, sims := range [][]float64{{-1, -1}, {2, 2, 2, 2, 2, 2}, {0.3}, {1}} {
		for _, answer := range []string{"", "unclear", longAnswer} {
			got := Score(chunksWith(sims...), answer)
			if got < 0 || got > 1 {
				t.Errorf("Score(%v, %q) = %v out of range", sims, answer, got)
			}
		}
	}
}

func TestScore_MonotonicInSimilarity(t *testing.T) {
	prev := -1.0
	for s := 0.0; s <= 1.0; s += 0.05 {
		got := Score(chunksWith(s, s, s), longAnswer)
		if got < prev {
			t.Fatalf("score decreased at similarity %.2f: %v < %v", s, got, prev)
		}
		prev = got
	}
}

func TestScore_ShortNeverBeatsLong(t *testing.T) {
	chunks := chunksWith(0.7, 0.4)
	short := "Open at nine."
	long := short + strings.Repeat(" We close at five on weekdays.", 3)
	if Score(chunks, short) > Score(chunks, long) {
		t.Error("short answer scored above its longer counterpart")
	}
}

func TestUncertain(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"I DON'T KNOW the answer", true},
		{"Dat is mij onduidelijk", true},
		{"Die informatie kan ik niet vinden", true},
		{"We are open on Sunday", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Uncertain(tt.answer); got != tt.want {
			t.Errorf("Uncertain(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestFactors(t *testing.T) {
	b := Factors(chunksWith(0.9, 0.7), "Yes.")
	if math.Abs(b.RetrievalSimilarity-0.8) > 1e-9 {
		t.Errorf("RetrievalSimilarity = %v", b.RetrievalSimilarity)
	}
	if math.Abs(b.SourceCoverage-0.4) > 1e-9 {
		t.Errorf("SourceCoverage = %v", b.SourceCoverage)
	}
	if b.AnswerCoherence != 0.5 {
		t.Errorf("AnswerCoherence = %v", b.AnswerCoherence)
	}
}
