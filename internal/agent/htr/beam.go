package htr

import (
	"context"
	"errors"
	"math"
	"slices"
)

// logEpsilon keeps log() finite for zero probabilities.
const logEpsilon = 1e-10

// StepDecoder returns the probability distribution of the next token given
// the tokens decoded so far.
type StepDecoder interface {
	NextTokenProbs(ctx context.Context, tokens []int64) ([]float32, error)
}

// Hypothesis is one beam: a token sequence and its cumulative log-probability.
type Hypothesis struct {
	Tokens []int64
	Score  float64
}

// BeamSearch holds the decoding parameters.
type BeamSearch struct {
	Width     int
	MaxLength int
	BOS       int64
	EOS       int64
}

var ErrEmptyDistribution = errors.New("decoder returned an empty distribution")

func (b BeamSearch) terminated(h Hypothesis) bool {
	return len(h.Tokens) > 1 && h.Tokens[len(h.Tokens)-1] == b.EOS
}

// Search decodes with dec and returns the best hypothesis. Terminated beams
// are carried forward and compete with their extended siblings.
func (b BeamSearch) Search(ctx context.Context, dec StepDecoder) (Hypothesis, error) {
	width := max(b.Width, 1)
	beams := []Hypothesis{{Tokens: []int64{b.BOS}}}

	for step := 0; step < b.MaxLength; step++ {
		if err := ctx.Err(); err != nil {
			return Hypothesis{}, err
		}

		candidates := make([]Hypothesis, 0, len(beams)*width)
		active := 0
		for _, h := range beams {
			if b.terminated(h) {
				candidates = append(candidates, h)
				continue
			}
			active++

			probs, err := dec.NextTokenProbs(ctx, h.Tokens)
			if err != nil {
				return Hypothesis{}, err
			}
			if len(probs) == 0 {
				return Hypothesis{}, ErrEmptyDistribution
			}

			for _, tok := range topK(probs, width) {
				tokens := make([]int64, len(h.Tokens)+1)
				copy(tokens, h.Tokens)
				tokens[len(h.Tokens)] = int64(tok)
				candidates = append(candidates, Hypothesis{
					Tokens: tokens,
					Score:  h.Score + math.Log(float64(probs[tok])+logEpsilon),
				})
			}
		}
		if active == 0 {
			break
		}

		slices.SortStableFunc(candidates, func(x, y Hypothesis) int {
			switch {
			case x.Score > y.Score:
				return -1
			case x.Score < y.Score:
				return 1
			default:
				return 0
			}
		})
		if len(candidates) > width {
			candidates = candidates[:width]
		}
		beams = candidates

		if !slices.ContainsFunc(beams, func(h Hypothesis) bool { return !b.terminated(h) }) {
			break
		}
	}

	best := beams[0]
	for _, h := range beams[1:] {
		if h.Score > best.Score {
			best = h
		}
	}
	return best, nil
}

// Strip removes BOS and EOS tokens.
func (b BeamSearch) Strip(tokens []int64) []int64 {
	out := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		if t == b.BOS || t == b.EOS {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Confidence length-normalizes the score over the generated tokens and maps
// it back to a probability.
func (b BeamSearch) Confidence(h Hypothesis) float64 {
	generated := max(len(h.Tokens)-1, 1)
	c := math.Exp(h.Score / float64(generated))
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// topK returns the indexes of the k largest probabilities, highest first.
// Ties keep the lower index first.
func topK(probs []float32, k int) []int {
	k = min(k, len(probs))
	idx := make([]int, 0, k+1)
	for i, p := range probs {
		pos := len(idx)
		for pos > 0 && probs[idx[pos-1]] < p {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = slices.Insert(idx, pos, i)
		if len(idx) > k {
			idx = idx[:k]
		}
	}
	return idx
}
