package confidence

import (
	"math"
	"strings"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// NoContextFloor is the score for an answer produced without any retrieved chunks.
const NoContextFloor = 0.1

const (
	similarityWeight = 0.4
	coverageWeight   = 0.3
	coherenceWeight  = 0.3

	coverageSaturation = 5.0
	shortAnswerLen     = 50
	shortAnswerFactor  = 0.5
	uncertainFactor    = 0.4
)

// uncertaintyPhrases are matched against the lowercased answer.
var uncertaintyPhrases = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"not sure",
	"unclear",
	"i cannot find",
	"i can't find",
	"no information",
	"don't have information",
	"unable to answer",
	"geen informatie",
	"niet zeker",
	"weet ik niet",
	"ik weet het niet",
	"onduidelijk",
	"kan ik niet vinden",
	"geen idee",
}

// Breakdown holds the individual factors behind a score.
type Breakdown struct {
	RetrievalSimilarity float64 `json:"retrieval_similarity"`
	SourceCoverage      float64 `json:"source_coverage"`
	AnswerCoherence     float64 `json:"answer_coherence"`
}

// Combined applies the factor weights, clamped to [0,1] and rounded to 3 decimals.
func (b Breakdown) Combined() float64 {
	raw := similarityWeight*b.RetrievalSimilarity +
		coverageWeight*b.SourceCoverage +
		coherenceWeight*b.AnswerCoherence
	return round3(clamp(raw))
}

// Score estimates how well answer is supported by the retrieved chunks.
func Score(chunks []domain.RetrievedChunk, answer string) float64 {
	if len(chunks) == 0 {
		return NoContextFloor
	}
	return Factors(chunks, answer).Combined()
}

// Factors computes the scoring factors. With no chunks the similarity and
// coverage factors are zero.
func Factors(chunks []domain.RetrievedChunk, answer string) Breakdown {
	var b Breakdown
	if len(chunks) > 0 {
		var sum float64
		for _, c := range chunks {
			sum += c.Similarity
		}
		b.RetrievalSimilarity = sum / float64(len(chunks))
		b.SourceCoverage = math.Min(float64(len(chunks))/coverageSaturation, 1.0)
	}
	b.AnswerCoherence = Coherence(answer)
	return b
}

// Coherence penalises very short answers and answers that admit uncertainty.
func Coherence(answer string) float64 {
	c := 1.0
	if len(answer) < shortAnswerLen {
		c *= shortAnswerFactor
	}
	if Uncertain(answer) {
		c *= uncertainFactor
	}
	return c
}

// Uncertain reports whether answer contains a known uncertainty phrase.
func Uncertain(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
