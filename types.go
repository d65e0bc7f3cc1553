package gatherly

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned when the server is reachable but declines a request
// (validation, authorization, conflict).
type APIError struct {
	StatusCode int             `json:"-"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Message returns the server's detail as text. String details are unquoted;
// structured details (validation lists) are returned as raw JSON.
func (e *APIError) Message() string {
	if len(e.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Detail, &s) == nil {
		return s
	}
	return string(e.Detail)
}

// IsRejected reports whether err is a server-side rejection.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

var (
	// ErrUnauthorized is returned after a 401 response purged the stored session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidDraft is returned by EventDraft.Validate.
	ErrInvalidDraft = errors.New("invalid event draft")
)

// Timestamp decodes both RFC 3339 and the zone-less ISO-8601 layout the
// server emits. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses s with the layouts accepted by Timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ============================================================================
// Events
// ============================================================================

// Event is a gathering as returned by the server.
type Event struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    string    `json:"location"`
	Capacity    *int      `json:"capacity"`
	StartTime   Timestamp `json:"start_time"`
	EndTime     Timestamp `json:"end_time"`
	CreatorID   int64     `json:"creator_id"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// clone returns a copy of e that shares no pointers with it.
func (e Event) clone() Event {
	if e.Description != nil {
		d := *e.Description
		e.Description = &d
	}
	if e.Capacity != nil {
		n := *e.Capacity
		e.Capacity = &n
	}
	return e
}

func cloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.clone()
	}
	return out
}

// EventDraft is the creation payload for POST /events/.
type EventDraft struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    string    `json:"location"`
	Capacity    *int      `json:"capacity"`
	StartTime   time.Time `json:"-"`
	EndTime     time.Time `json:"-"`
}

func (d EventDraft) MarshalJSON() ([]byte, error) {
	type wire EventDraft
	return json.Marshal(struct {
		wire
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}{
		wire:      wire(d),
		StartTime: d.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:   d.EndTime.UTC().Format(time.RFC3339Nano),
	})
}

// Validate checks required fields and that the event ends after it starts.
// It belongs to the caller layer: SyncCore.CreateEvent does not call it.
func (d EventDraft) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(d.Location) == "" {
		missing = append(missing, "location")
	}
	if d.StartTime.IsZero() {
		missing = append(missing, "start_time")
	}
	if d.EndTime.IsZero() {
		missing = append(missing, "end_time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDraft, strings.Join(missing, ", "))
	}
	if !d.EndTime.After(d.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidDraft)
	}
	if d.Capacity != nil && *d.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", ErrInvalidDraft)
	}
	return nil
}

// ============================================================================
// Outbox
// ============================================================================

// ActionKind is the kind of a deferred membership mutation.
type ActionKind string

const (
	ActionJoin  ActionKind = "join"
	ActionLeave ActionKind = "leave"
)

// PendingAction is a join or leave recorded while offline.
type PendingAction struct {
	ID        string     `json:"id,omitempty"`
	Kind      ActionKind `json:"type"`
	EventID   int64      `json:"eventId"`
	Timestamp int64      `json:"timestamp"`
}

// ============================================================================
// Chat
// ============================================================================

// ChatMessage is one chat line as delivered over a room connection.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	SenderID  int64     `json:"sender_id"`
	EventID   int64     `json:"event_id"`
	CreatedAt Timestamp `json:"created_at"`
}

// ============================================================================
// Auth
// ============================================================================

// User is the signed-in user's profile.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsActive bool   `json:"is_active"`
}

// TokenResponse is the body of POST /login/access-token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterOptions is the body of POST /users/.
type RegisterOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}
