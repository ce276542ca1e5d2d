package usage

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// StreamRecorder wraps an SSE stream and records its usage entry when the
// stream is closed. The tail of the stream is kept to read token counts
// from the final usage event.
type StreamRecorder struct {
	io.ReadCloser
	recorder   Recorder
	entry      *UsageEntry
	pricePer1K float64
	started    time.Time
	tail       bytes.Buffer
	once       sync.Once
}

// WrapStream returns stream unchanged when recording is disabled.
// entry is completed and recorded on Close.
func WrapStream(stream io.ReadCloser, recorder Recorder, entry *UsageEntry, pricePer1K float64, started time.Time) io.ReadCloser {
	if recorder == nil || !recorder.Enabled() || entry == nil {
		return stream
	}
	return &StreamRecorder{
		ReadCloser: stream,
		recorder:   recorder,
		entry:      entry,
		pricePer1K: pricePer1K,
		started:    started,
	}
}

// Read implements io.Reader.
func (w *StreamRecorder) Read(p []byte) (int, error) {
	n, err := w.ReadCloser.Read(p)
	if n > 0 {
		w.tail.Write(p[:n])
		if w.tail.Len() > SSEBufferSize {
			data := w.tail.Bytes()
			keep := append([]byte(nil), data[len(data)-SSEBufferSize:]...)
			w.tail.Reset()
			w.tail.Write(keep)
		}
	}
	return n, err
}

// Close records the entry once and closes the underlying stream.
func (w *StreamRecorder) Close() error {
	w.once.Do(func() {
		if t := tokensFromSSE(w.tail.Bytes()); t.Found() {
			t.Apply(w.entry, w.pricePer1K)
		}
		// The stream was opened, so the client saw a 200 whatever came after.
		if w.entry.StatusCode == 0 {
			w.entry.StatusCode = http.StatusOK
		}
		w.entry.DurationMs = time.Since(w.started).Milliseconds()
		w.entry.Timestamp = time.Now().UTC()
		w.recorder.Record(w.entry)
	})
	return w.ReadCloser.Close()
}

// tokensFromSSE searches the events from the end for a usage block.
// OpenAI-compatible servers send it in the last event before [DONE].
func tokensFromSSE(data []byte) Tokens {
	events := bytes.Split(data, []byte("\n\n"))
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if len(event) == 0 || bytes.Contains(event, []byte("[DONE]")) {
			continue
		}
		for _, line := range bytes.Split(event, []byte("\n")) {
			payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
			if !ok {
				continue
			}
			payload = bytes.TrimSpace(payload)
			if !gjson.GetBytes(payload, "usage").IsObject() {
				continue
			}
			if t := ExtractTokens(payload); t.Found() {
				return t
			}
		}
	}
	return Tokens{}
}
