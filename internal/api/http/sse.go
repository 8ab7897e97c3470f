package http

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// sseStream writes one text/event-stream response. safeWrite swallows
// write errors after the first one (client disconnect) rather than
// returning them to the caller, per spec.md §5's safeWrite contract:
// in-flight tasks keep running server-side, but their results are
// discarded once the stream is known dead.
type sseStream struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	log        zerolog.Logger
	disconnect atomic.Bool
}

func newSSEStream(w http.ResponseWriter, log zerolog.Logger) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher, log: log}, true
}

// safeWrite marshals evt as JSON and writes one `data: ...\n\n` line.
// Returns false once a write has failed; callers should stop calling it
// for this stream, though it is safe to call again (it no-ops).
func (s *sseStream) safeWrite(evt interface{}) bool {
	if s.disconnect.Load() {
		return false
	}
	body, err := json.Marshal(evt)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal event")
		return true
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		s.disconnect.Store(true)
		return false
	}
	if _, err := s.w.Write(body); err != nil {
		s.disconnect.Store(true)
		return false
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		s.disconnect.Store(true)
		return false
	}
	s.flusher.Flush()
	return true
}
