package ssereplay

import (
	"fmt"
	"os"
	"time"
)

// ServerStatus is snapshot of metadata describing the status of a Server.
//
// It can be serialized to JSON and is what gets reported to the admin API
// endpoint.
type ServerStatus struct {
	Node        string             `json:"node"`
	Status      string             `json:"status"`
	Reported    int64              `json:"reported_at"`
	StartupTime int64              `json:"startup_time"`
	SentMsgs    uint64             `json:"msgs_sent"` // all time, across every session
	Topics      []LedgerStats      `json:"topics"`
	Connections []ConnectionStatus `json:"connections"`
}

// Status returns a snaphot of status metadata for the Server.
//
// Primarily intended for logging and reporting.
func (s *Server) Status() ServerStatus {
	stats := ServerStatus{
		Node:        fmt.Sprintf("%s-%s-%s", platform(), env(), nodeName()),
		Status:      "OK",
		Reported:    time.Now().Unix(),
		StartupTime: s.startupTime.Unix(),
		Topics:      s.topics.Stats(),
		Connections: s.Sessions(),
	}
	stats.SentMsgs = s.sentMsgs.Load()
	s.mu.Lock()
	if s.stopped {
		stats.Status = "SHUTDOWN"
	}
	s.mu.Unlock()
	for _, c := range stats.Connections {
		stats.SentMsgs += c.MsgsSent
	}
	return stats
}

// The name of the platform we are running on.
func platform() string {
	return "go"
}

// Attempts to intelligently get the name of the node we are running on.
//
// First checks for a Heroku $DYNO variable (e.g. `web.2` etc), if that isn't
// found will default to the local hostname.
func nodeName() string {
	if dyno := os.Getenv("DYNO"); dyno != "" {
		return dyno
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown.X"
}

// A string representing the environment (dev/staging/prod), for reporting.
func env() string {
	if env := os.Getenv("SSEREPLAY_APP_ENV"); env != "" {
		return env
	}
	return "development"
}
