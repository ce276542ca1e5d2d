package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
)

// Entry is one cached completion.
type Entry struct {
	Fingerprint string `json:"fingerprint"`
	// Body is the backend response exactly as it was received
	Body []byte `json:"body"`
	// ModelID is always the resolved model, never "auto"
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry must no longer be served at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Encoded entries start with a format marker so compressed and plain values
// can live side by side in one store.
const (
	formatJSON   byte = 'j'
	formatBrotli byte = 'b'
)

// errUnknownFormat is returned for values not written by this package.
var errUnknownFormat = errors.New("unknown cache entry format")

// codec serializes entries for the backing store.
type codec struct {
	compress bool
	minBytes int
}

func (c codec) encode(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if !c.compress || len(raw) < c.minBytes {
		return append([]byte{formatJSON}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(formatBrotli)
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func (c codec) decode(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, errUnknownFormat
	}

	var raw []byte
	switch data[0] {
	case formatJSON:
		raw = data[1:]
	case formatBrotli:
		var err error
		raw, err = io.ReadAll(brotli.NewReader(bytes.NewReader(data[1:])))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}
	default:
		return nil, errUnknownFormat
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry: %w", err)
	}
	return &e, nil
}
