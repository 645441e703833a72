// Package sse writes server-sent events for the streamed meditation script.
package sse

import (
	"encoding/json"
	"net/http"
	"strings"

	"visualize-backend/apperr"

	"github.com/gin-gonic/gin"
)

// DoneMarker ends every stream.
const DoneMarker = "[DONE]"

type Writer struct {
	c       *gin.Context
	flusher http.Flusher
}

// Open writes the event-stream headers. It fails when the response cannot be flushed.
func Open(c *gin.Context) (*Writer, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &Writer{c: c, flusher: flusher}, true
}

// Data sends one token. Multi-line tokens become several data lines of the
// same event; clients join them back with newlines.
func (w *Writer) Data(msg string) {
	for _, line := range strings.Split(msg, "\n") {
		_, _ = w.c.Writer.Write([]byte("data: " + line + "\n"))
	}
	_, _ = w.c.Writer.Write([]byte("\n"))
	w.flusher.Flush()
}

// Event sends a named event with a JSON payload.
func (w *Writer) Event(name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte(`{}`)
	}
	_, _ = w.c.Writer.Write([]byte("event: " + name + "\ndata: " + string(payload) + "\n\n"))
	w.flusher.Flush()
}

func (w *Writer) Done() {
	_, _ = w.c.Writer.Write([]byte("data: " + DoneMarker + "\n\n"))
	w.flusher.Flush()
}

// Stream relays every token from ch. After ch closes, a failure on errc is
// sent as an error event carrying the API error body; only a clean end gets
// the done marker. errc may be nil.
func Stream(c *gin.Context, ch <-chan string, errc <-chan error) {
	w, ok := Open(c)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	for msg := range ch {
		w.Data(msg)
	}
	if errc != nil {
		if err := <-errc; err != nil {
			_ = c.Error(err)
			_, body := apperr.Body(err)
			w.Event("error", body)
			return
		}
	}
	w.Done()
}
