package generation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/events"
)

// DefaultTopK is the number of alternatives requested per position.
const DefaultTopK = 5

// Candidate is one possible next token with its probability.
type Candidate struct {
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
}

// CandidateSource returns ranked next-token candidates for a prompt.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, prompt string, params SamplingParameters) ([]Candidate, error)
}

// FromLogprobs converts log-probabilities to probabilities, ranks them descending
// (ties keep their original order) and keeps at most k entries. k <= 0 keeps all.
func FromLogprobs(top []completion.TopLogprob, k int) []Candidate {
	out := make([]Candidate, 0, len(top))
	for _, lp := range top {
		out = append(out, Candidate{Token: lp.Token, Probability: math.Exp(lp.Logprob)})
	}
	return Rank(out, k)
}

// Rank sorts candidates by descending probability, stable, and truncates to k.
func Rank(cands []Candidate, k int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Probability > cands[j].Probability
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

func (c Candidate) String() string {
	return fmt.Sprintf("%q %.2f%%", c.Token, c.Probability*100)
}

func toEventCandidates(cands []Candidate) []events.Candidate {
	out := make([]events.Candidate, len(cands))
	for i, c := range cands {
		out[i] = events.Candidate{Token: c.Token, Probability: c.Probability}
	}
	return out
}
