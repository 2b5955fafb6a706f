package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The wire protocol is newline-delimited JSON: one frame is one JSON value
// followed by '\n'. json.Marshal escapes newlines inside strings, so the
// delimiter can never appear inside a frame body.

// encodeFrame serializes a message into a single self-delimiting frame.
func encodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(body, '\n'), nil
}

// decodeFrame extracts the first complete frame from buf. It never blocks:
// if buf holds no complete frame, ok is false and the caller keeps buf and
// appends further bytes. Empty frames (bare newlines) are consumed and
// skipped.
func decodeFrame(buf []byte) (frame, rest []byte, ok bool) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return nil, buf, false
		}
		frame = bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(frame) == 0 {
			continue
		}
		return frame, buf, true
	}
}
