package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/obs"
)

// LogSink writes audit events as structured JSON lines.
type LogSink struct {
	Logger *log.Logger
}

var _ Sink = LogSink{}

func (s LogSink) Deliver(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if len(fields) > 0 {
		entry["fields"] = fields
	} else {
		entry["fields"] = map[string]any{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	logger.Println(string(data))
	return nil
}
