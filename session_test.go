package ssereplay

import (
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLastEventID(t *testing.T) {
	testcases := []struct {
		name   string
		target string
		header string
		want   *uint64
	}{
		{"none", "/events", "", nil},
		{"header", "/events", "42", ptr(42)},
		{"zero", "/events", "0", ptr(0)},
		{"query", "/events?lastEventId=7", "", ptr(7)},
		{"header wins over query", "/events?lastEventId=7", "9", ptr(9)},
		{"malformed", "/events", "nope", nil},
		{"malformed with verbs", "/events", "%d%s%!", nil},
		{"negative", "/events", "-1", nil},
		{"overflow", "/events", "18446744073709551616", nil},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Last-Event-ID", tc.header)
			}
			got := lastEventID(r)
			switch {
			case got == nil && tc.want == nil:
			case got == nil || tc.want == nil:
				t.Errorf("got %v want %v", got, tc.want)
			case *got != *tc.want:
				t.Errorf("got %d want %d", *got, *tc.want)
			}
		})
	}
}

func ptr(v uint64) *uint64 { return &v }

func TestSessionState(t *testing.T) {
	for st, want := range map[SessionState]string{
		StateConnected: "connected",
		StateStreaming: "streaming",
		StateClosed:    "closed",
		SessionState(9): "unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("got %q want %q", got, want)
		}
	}
}

// An event that cannot be encoded is replaced by a diagnostic comment, logged,
// and does not end the stream.
func TestWriteEventSerializationFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rr := httptest.NewRecorder()
	s := &session{
		r:       httptest.NewRequest("GET", "/events", nil),
		w:       rr,
		flusher: rr,
		log:     zap.New(core),
	}

	if err := s.writeEvent(Event{ID: 3, Kind: KindUpdate, Payload: badPayload{}}); err != nil {
		t.Fatal(err)
	}
	good := newEvent(4, UpdatePayload{Timestamp: "t", Value: 1, Message: "Update #4."})
	if err := s.writeEvent(good); err != nil {
		t.Fatal(err)
	}

	want := ": error - serialization failed\n\n" +
		"id: 4\nevent: update\ndata: {\"timestamp\":\"t\",\"value\":1,\"message\":\"Update #4.\"}\n\n"
	if got := rr.Body.String(); got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if got := s.msgsSent.Load(); got != 1 {
		t.Errorf("got %d msgs sent want 1", got)
	}
	if logs.Len() != 1 {
		t.Fatalf("got %d warnings want 1", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["event_id"] != uint64(3) {
		t.Errorf("warning does not name the event: %v", entry.ContextMap())
	}
}
