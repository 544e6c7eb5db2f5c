package ssereplay

import (
	"encoding/json"
	"strconv"
)

var (
	heartbeatFrame      = commentFrame("heartbeat")
	keepaliveFrame      = commentFrame("keepalive")
	serializationFailed = commentFrame("error - serialization failed")
)

// sseFormat is the formatted bytestring for an Event, ready to be sent.
//
// The payload is JSON encoded onto a single data line. If the payload cannot
// be encoded the error is returned and nothing is framed.
func (e Event) sseFormat() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	// 4+1 for "id: \n", 7+1 for "event: \n", 6+2 for "data: \n\n"
	b := make([]byte, 0, 21+20+len(e.Kind)+len(data))
	b = append(b, "id: "...)
	b = strconv.AppendUint(b, e.ID, 10)
	b = append(b, '\n')
	b = append(b, "event: "...)
	b = append(b, string(e.Kind)...)
	b = append(b, '\n')
	b = append(b, "data: "...)
	b = append(b, data...)
	b = append(b, '\n', '\n')
	return b, nil
}

// commentFrame is a comment-only frame. Any SSE line beginning with a colon is
// ignored by clients but still resets idle timers on proxies.
// https://html.spec.whatwg.org/multipage/server-sent-events.html#event-stream-interpretation
func commentFrame(text string) []byte {
	b := make([]byte, 0, len(text)+4)
	b = append(b, ": "...)
	b = append(b, text...)
	b = append(b, '\n', '\n')
	return b
}
