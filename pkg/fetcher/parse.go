package fetcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mosajjal/authhec/pkg/models"
)

// wireEvent accepts both the snake_case names used by most upstreams and camelCase
// variants. Unknown fields are ignored.
type wireEvent struct {
	Timestamp          json.RawMessage  `json:"timestamp"`
	EventType          string           `json:"event_type"`
	EventTypeCamel     string           `json:"eventType"`
	UserID             string           `json:"user_id"`
	UserIDCamel        string           `json:"userId"`
	SourceIP           string           `json:"source_ip"`
	SourceIPCamel      string           `json:"sourceIp"`
	IPAddress          string           `json:"ip_address"`
	UserAgent          string           `json:"user_agent"`
	UserAgentCamel     string           `json:"userAgent"`
	Location           *models.Location `json:"location"`
	AuthMethod         string           `json:"auth_method"`
	AuthMethodCamel    string           `json:"authMethod"`
	FailureReason      string           `json:"failure_reason"`
	FailureReasonCamel string           `json:"failureReason"`
}

// parseEvent converts one raw record into an AuthEvent. A non-nil error means the record
// is malformed and must be dropped.
func parseEvent(raw json.RawMessage) (models.AuthEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.AuthEvent{}, fmt.Errorf("not an event object: %w", err)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return models.AuthEvent{}, err
	}

	event := models.AuthEvent{
		Timestamp:     ts,
		EventType:     pick(w.EventType, w.EventTypeCamel),
		UserID:        pick(w.UserID, w.UserIDCamel),
		SourceIP:      pick(w.SourceIP, w.SourceIPCamel, w.IPAddress),
		UserAgent:     pick(w.UserAgent, w.UserAgentCamel),
		AuthMethod:    pick(w.AuthMethod, w.AuthMethodCamel),
		FailureReason: pick(w.FailureReason, w.FailureReasonCamel),
	}
	if event.EventType == "" {
		return models.AuthEvent{}, fmt.Errorf("missing event_type")
	}
	if event.UserID == "" {
		return models.AuthEvent{}, fmt.Errorf("missing user_id")
	}
	if w.Location != nil && (w.Location.Country != "" || w.Location.City != "") {
		loc := *w.Location
		event.Location = &loc
	}
	if !event.IsFailure() {
		event.FailureReason = ""
	}
	return event, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be an ISO-8601 string")
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", str)
	}
	return ts.UTC(), nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
