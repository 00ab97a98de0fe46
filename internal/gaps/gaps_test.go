package gaps

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

func TestNormalizeQuestion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"What are your opening hours?", "opening hours"},
		{"  OPENING   hours!!  ", "opening hours"},
		{"Wat zijn de openingstijden?", "openingstijden"},
		{"Is it?", "is it"},
		{"Do you ship to Belgium, please?", "ship belgium"},
		{"???", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeQuestion(tt.in); got != tt.want {
			t.Errorf("NormalizeQuestion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("", "Opening hours?"); got != "general|opening hours" {
		t.Errorf("Key = %q", got)
	}
	if got := Key(" Billing ", "refund?"); got != "billing|refund" {
		t.Errorf("Key = %q", got)
	}
	if Key("billing", "What are your opening hours") == Key("support", "What are your opening hours") {
		t.Error("category must be part of the key")
	}
	if got := Key("x", "?!"); got != "" {
		t.Errorf("Key of empty question = %q", got)
	}
}

func conf(v float64) *float64 { return &v }

func TestExchanges(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "q1", Category: "billing", CreatedAt: base},
		{Role: domain.RoleAssistant, Content: "a1", Confidence: conf(0.2), CreatedAt: base.Add(time.Second)},
		{Role: domain.RoleSystem, Content: "note", CreatedAt: base.Add(2 * time.Second)},
		{Role: domain.RoleUser, Content: "q2", CreatedAt: base.Add(3 * time.Second)},
		{Role: domain.RoleAssistant, Content: "a2", Escalated: true, Category: "support", CreatedAt: base.Add(4 * time.Second)},
	}

	all := Exchanges(msgs, nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(all))
	}
	if all[0].Question != "q1" || all[0].Category != "billing" || !all[0].HasConfidence || all[0].AskedAt != base {
		t.Errorf("exchange 0 = %+v", all[0])
	}
	if all[1].Question != "q2" || all[1].Category != "support" || all[1].HasConfidence || !all[1].Escalated {
		t.Errorf("exchange 1 = %+v", all[1])
	}

	after := base.Add(time.Second)
	newer := Exchanges(msgs, &after)
	if len(newer) != 1 || newer[0].Question != "q2" {
		t.Errorf("exchanges after watermark = %+v", newer)
	}
}

func TestExchangeClassification(t *testing.T) {
	tests := []struct {
		name      string
		ex        Exchange
		gap       bool
		cacheable bool
	}{
		{"low confidence", Exchange{Question: "q", Answer: "a", Confidence: 0.3, HasConfidence: true}, true, false},
		{"at threshold", Exchange{Question: "q", Answer: "a", Confidence: 0.6, HasConfidence: true}, false, true},
		{"escalated high confidence", Exchange{Question: "q", Answer: "a", Confidence: 0.9, HasConfidence: true, Escalated: true}, true, false},
		{"no confidence not escalated", Exchange{Question: "q", Answer: "a"}, false, false},
		{"no confidence escalated", Exchange{Question: "q", Escalated: true}, true, false},
		{"confident but no question", Exchange{Answer: "a", Confidence: 0.9, HasConfidence: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ex.IsGap(0.6); got != tt.gap {
				t.Errorf("IsGap = %v, want %v", got, tt.gap)
			}
			if got := tt.ex.Cacheable(0.6); got != tt.cacheable {
				t.Errorf("Cacheable = %v, want %v", got, tt.cacheable)
			}
		})
	}
}

func TestMerge_RunningMean(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := NewGap(uuid.New(), "general|x", Exchange{Question: "x", Confidence: 0.2, AskedAt: t0}, t0)

	Merge(g, Exchange{Confidence: 0.4, AskedAt: t0.Add(time.Hour), Escalated: true})
	Merge(g, Exchange{Confidence: 0.6, AskedAt: t0.Add(-time.Hour)})

	if g.Frequency != 3 {
		t.Errorf("frequency = %d, want 3", g.Frequency)
	}
	if math.Abs(g.AvgConfidence-0.4) > 1e-9 {
		t.Errorf("avg = %v, want 0.4", g.AvgConfidence)
	}
	if !g.LastAskedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("last asked = %v", g.LastAskedAt)
	}
	if !g.Escalated {
		t.Error("escalated flag should stick")
	}
	if g.Status != domain.GapOpen || g.Category != DefaultCategory {
		t.Errorf("new gap status/category = %s/%s", g.Status, g.Category)
	}
}

func TestClusterPairs(t *testing.T) {
	a, b, c, d, e := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	clusters := ClusterPairs([]DuplicatePair{
		{ID1: a, ID2: b},
		{ID1: b, ID2: c},
		{ID1: d, ID2: e},
	})
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	sizes := []int{len(clusters[0]), len(clusters[1])}
	sort.Ints(sizes)
	if sizes[0] != 2 || sizes[1] != 3 {
		t.Errorf("cluster sizes = %v", sizes)
	}
	if ClusterPairs(nil) != nil {
		t.Error("no pairs should give no clusters")
	}
}

func TestFold(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	big := &domain.KnowledgeGap{ID: uuid.New(), Frequency: 3, AvgConfidence: 0.2, LastAskedAt: t0, CreatedAt: t0}
	small := &domain.KnowledgeGap{ID: uuid.New(), Frequency: 1, AvgConfidence: 0.6, LastAskedAt: t0.Add(time.Hour), Escalated: true, CreatedAt: t0}

	survivor, merged := fold([]*domain.KnowledgeGap{small, big})
	if survivor.ID != big.ID {
		t.Fatal("most frequent gap should survive")
	}
	if len(merged) != 1 || merged[0] != small.ID {
		t.Errorf("merged = %v", merged)
	}
	if survivor.Frequency != 4 || math.Abs(survivor.AvgConfidence-0.3) > 1e-9 {
		t.Errorf("survivor = %+v", survivor)
	}
	if !survivor.Escalated || !survivor.LastAskedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("survivor flags = %+v", survivor)
	}
}
