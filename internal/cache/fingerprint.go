package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"infergate/internal/core"
)

// Fingerprint derives the cache key of a non-streaming request.
//
// The key covers the resolved model id, every message in order with its
// content trimmed of surrounding whitespace, and the effective sampling
// parameters. Two requests that differ only in such whitespace share a key.
func Fingerprint(modelID string, messages []core.Message, temperature, topP float64, maxTokens int) string {
	msgs := make([][2]string, len(messages))
	for i, m := range messages {
		msgs[i] = [2]string{m.Role, strings.TrimSpace(m.Content)}
	}

	// A positional array keeps the encoding independent of map ordering.
	// Floats are formatted up front so that every value is a string or an int,
	// which json.Marshal cannot fail on.
	tuple := []any{
		modelID,
		msgs,
		strconv.FormatFloat(temperature, 'g', -1, 64),
		strconv.FormatFloat(topP, 'g', -1, 64),
		maxTokens,
	}
	canonical, _ := json.Marshal(tuple)

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
