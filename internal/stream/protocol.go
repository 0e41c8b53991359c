package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire framing for the marketplace's push gateway. Commands carry an id
// the server echoes back in its reply; publications and pings arrive
// without one. Frames may be batched newline-delimited.

const (
	connectCommandID   = 1
	subscribeCommandID = 2
)

type connectCommand struct {
	ID      uint32         `json:"id"`
	Connect connectRequest `json:"connect"`
}

type connectRequest struct {
	Token string `json:"token"`
}

type subscribeCommand struct {
	ID        uint32           `json:"id"`
	Subscribe subscribeRequest `json:"subscribe"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

type replyError struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (e *replyError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

type connectResult struct {
	Client  string `json:"client"`
	Version string `json:"version"`
}

type publication struct {
	Data json.RawMessage `json:"data"`
}

type push struct {
	Channel string       `json:"channel"`
	Pub     *publication `json:"pub"`
}

type reply struct {
	ID        uint32          `json:"id"`
	Error     *replyError     `json:"error"`
	Connect   *connectResult  `json:"connect"`
	Subscribe json.RawMessage `json:"subscribe"`
	Push      *push           `json:"push"`
}

func unmarshalFrame(frame []byte, r *reply) error {
	return json.Unmarshal(frame, r)
}

// isPing reports whether a frame is the server's empty-object ping,
// which the client must echo back verbatim.
func isPing(frame []byte) bool {
	return string(bytes.TrimSpace(frame)) == "{}"
}

// splitFrames splits a batched message into individual frames.
func splitFrames(message []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(message, []byte("\n")) {
		part = bytes.TrimSpace(part)
		if len(part) > 0 {
			frames = append(frames, part)
		}
	}
	return frames
}
