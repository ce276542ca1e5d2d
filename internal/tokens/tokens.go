// Package tokens estimates prompt sizes for routing decisions.
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"infergate/internal/core"
)

// Estimator kinds accepted by New.
const (
	KindChars    = "chars"
	KindWords    = "words"
	KindTiktoken = "tiktoken"
)

// Estimator approximates the number of tokens in a conversation.
// Estimates only steer routing; they are never used for billing.
type Estimator interface {
	Estimate(messages []core.Message) int
}

// New returns the estimator for kind. Empty kind selects the character heuristic.
func New(kind string) (Estimator, error) {
	switch kind {
	case "", KindChars:
		return CharEstimator{}, nil
	case KindWords:
		return WordEstimator{}, nil
	case KindTiktoken:
		return NewTiktokenEstimator("cl100k_base"), nil
	default:
		return nil, fmt.Errorf("unknown token estimator: %q", kind)
	}
}

// CharEstimator counts one token per four characters, rounded up.
type CharEstimator struct{}

// Estimate implements Estimator.
func (CharEstimator) Estimate(messages []core.Message) int {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	return (chars + 3) / 4
}

// WordEstimator counts four tokens per three words, rounded up.
type WordEstimator struct{}

// Estimate implements Estimator.
func (WordEstimator) Estimate(messages []core.Message) int {
	words := 0
	for _, m := range messages {
		words += len(strings.Fields(m.Content))
	}
	return (words*4 + 2) / 3
}

// TiktokenEstimator counts tokens with a BPE encoding. The encoding is loaded
// lazily; if it cannot be loaded the character heuristic is used instead.
type TiktokenEstimator struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator for the named encoding.
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	return &TiktokenEstimator{encoding: encoding}
}

// Estimate implements Estimator.
func (e *TiktokenEstimator) Estimate(messages []core.Message) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, falling back to character estimate",
				"encoding", e.encoding, "error", err)
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return CharEstimator{}.Estimate(messages)
	}

	total := 0
	for _, m := range messages {
		total += len(e.enc.Encode(m.Content, nil, nil))
	}
	return total
}
