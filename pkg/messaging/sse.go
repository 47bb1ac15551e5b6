package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/entrhq/conduit/pkg/types"
)

// Frame is the JSON payload of one server-sent event.
type Frame struct {
	Role     types.Role     `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// EncodeFrame renders msg as "data: <json>\n\n". Metadata is always an
// object, never null.
func EncodeFrame(msg *types.Message) (string, error) {
	f := Frame{Role: msg.Role, Content: msg.Content, Metadata: msg.Metadata}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}
	// Encode appends a newline
	return "data: " + string(bytes.TrimRight(buf.Bytes(), "\n")) + "\n\n", nil
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(frame string) (*Frame, error) {
	payload, ok := bytes.CutPrefix(bytes.TrimRight([]byte(frame), "\n"), []byte("data: "))
	if !ok {
		return nil, fmt.Errorf("frame has no data field: %q", frame)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &f, nil
}

// WriteSSE copies the session's frames to w, flushing after each one when
// w supports it. It returns once the stop frame has been written.
func (d *Dispatcher) WriteSSE(ctx context.Context, w io.Writer, sessionID string) error {
	frames, err := d.Dispatch(ctx, sessionID)
	if err != nil {
		return err
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
	}
	flusher, _ := w.(http.Flusher)

	for frame := range frames {
		if _, err := io.WriteString(w, frame); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return ctx.Err()
}
