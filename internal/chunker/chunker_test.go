package chunker

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

// sampleText returns exactly 900 characters of distinct words.
func sampleText() string {
	words := make([]string, 0, 113)
	for i := 0; i < 112; i++ {
		words = append(words, fmt.Sprintf("w%06d", i))
	}
	words = append(words, "tail")
	return strings.Join(words, " ")
}

func randomText(r *rand.Rand, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(strings.Repeat(" ", 1+r.Intn(2)))
		}
		l := 1 + r.Intn(12)
		for j := 0; j < l; j++ {
			sb.WriteByte(byte('a' + r.Intn(26)))
		}
	}
	return sb.String()
}

func TestSplit_Blank(t *testing.T) {
	for _, in := range []string{"", " ", "\n\t  \n"} {
		if got := Split(in, 500, 50); len(got) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", in, len(got))
		}
	}
}

func TestSplit_ShortText(t *testing.T) {
	got := Split("  hello   brave\nnew world ", 500, 50)
	want := []string{"hello brave new world"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestSplit_NineHundredCharacters(t *testing.T) {
	text := sampleText()
	if len(text) != 900 {
		t.Fatalf("sample length = %d, want 900", len(text))
	}

	chunks := Split(text, 500, 50)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if len(first) != 63 {
		t.Errorf("chunk 0: expected 63 words, got %d", len(first))
	}
	if !reflect.DeepEqual(second[:50], first[len(first)-50:]) {
		t.Error("chunk 1 does not start with the last 50 words of chunk 0")
	}
	if second[len(second)-1] != "tail" {
		t.Errorf("last word = %q, want tail", second[len(second)-1])
	}
}

func TestSplit_ThresholdIsInclusive(t *testing.T) {
	// "aaaa " counts 5; two words reach size 10 exactly.
	got := Split("aaaa bbbb cccc", 10, 0)
	want := []string{"aaaa bbbb", "cccc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestSplit_NoTrailingSeedOnlyChunk(t *testing.T) {
	got := Split("aaaa bbbb", 10, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %q", got)
	}
}

func TestSplit_OverlapLargerThanChunk(t *testing.T) {
	got := Split("aaaa bbbb cccc dddd", 10, 10)
	want := []string{"aaaa bbbb", "aaaa bbbb cccc dddd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestSplit_Defaults(t *testing.T) {
	text := sampleText()
	if !reflect.DeepEqual(Split(text, 0, -3), Split(text, DefaultSize, 0)) {
		t.Error("non-positive size should fall back to DefaultSize, negative overlap to 0")
	}
}

func TestSplit_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	cases := []struct {
		size, overlap int
	}{
		{500, 50},
		{100, 10},
		{40, 0},
		{30, 25},
		{1, 3},
	}

	for i := 0; i < 20; i++ {
		text := randomText(r, 1+r.Intn(400))
		words := strings.Fields(text)

		for _, tc := range cases {
			name := fmt.Sprintf("text%d/size%d/overlap%d", i, tc.size, tc.overlap)
			t.Run(name, func(t *testing.T) {
				chunks := Split(text, tc.size, tc.overlap)
				if len(chunks) == 0 {
					t.Fatal("non-empty text produced no chunks")
				}

				var rebuilt []string
				var prev []string
				for j, c := range chunks {
					cw := strings.Fields(c)
					skip := 0
					if j > 0 {
						skip = tc.overlap
						if skip > len(prev) {
							skip = len(prev)
						}
						if !reflect.DeepEqual(cw[:skip], prev[len(prev)-skip:]) {
							t.Fatalf("chunk %d overlap mismatch", j)
						}
					}
					if len(cw) <= skip {
						t.Fatalf("chunk %d has no new words", j)
					}
					rebuilt = append(rebuilt, cw[skip:]...)
					prev = cw
				}

				if !reflect.DeepEqual(rebuilt, words) {
					t.Fatalf("reconstruction mismatch: %d words, want %d", len(rebuilt), len(words))
				}
			})
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := randomText(rand.New(rand.NewSource(1)), 300)
	a := Split(text, 120, 12)
	b := Split(text, 120, 12)
	if !reflect.DeepEqual(a, b) {
		t.Error("Split is not deterministic")
	}
}
