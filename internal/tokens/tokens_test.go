package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infergate/internal/core"
)

func msgs(contents ...string) []core.Message {
	out := make([]core.Message, 0, len(contents))
	for _, c := range contents {
		out = append(out, core.Message{Role: core.RoleUser, Content: c})
	}
	return out
}

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		name     string
		messages []core.Message
		want     int
	}{
		{"empty", nil, 0},
		{"exact multiple", msgs("abcd"), 1},
		{"rounds up", msgs("abcde"), 2},
		{"sums messages", msgs("abcd", "abcd", "ab"), 3},
		{"counts runes not bytes", msgs("héllo wörld"), 3},
		{"large prompt", msgs(strings.Repeat("x", 40000)), 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CharEstimator{}.Estimate(tt.messages))
		})
	}
}

func TestWordEstimator(t *testing.T) {
	assert.Equal(t, 0, WordEstimator{}.Estimate(nil))
	assert.Equal(t, 4, WordEstimator{}.Estimate(msgs("one two three")))
	assert.Equal(t, 2, WordEstimator{}.Estimate(msgs("  hello   ")))
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", KindChars, KindWords, KindTiktoken} {
		est, err := New(kind)
		require.NoError(t, err, kind)
		require.NotNil(t, est)
	}

	_, err := New("bytes")
	assert.Error(t, err)
}

func TestTiktokenEstimator_AlwaysPositiveForText(t *testing.T) {
	// Works with or without the encoding being loadable in the test environment.
	est := NewTiktokenEstimator("cl100k_base")
	assert.Positive(t, est.Estimate(msgs("The quick brown fox jumps over the lazy dog")))
}

func TestTiktokenEstimator_UnknownEncodingFallsBack(t *testing.T) {
	est := NewTiktokenEstimator("no_such_encoding")
	assert.Equal(t, CharEstimator{}.Estimate(msgs("abcdefgh")), est.Estimate(msgs("abcdefgh")))
}
