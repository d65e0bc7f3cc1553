package gatherly

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-05-01T10:00:00Z", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-05-01T12:00:00+02:00", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-05-01T10:00:00", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-05-01T10:00:00.250000", time.Date(2026, 5, 1, 10, 0, 0, 250000000, time.UTC)},
		{"2026-05-01T10:00", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("ParseTimestamp: %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Fatalf("got %v, want %v", got.Time, tt.want)
			}
		})
	}

	if _, err := ParseTimestamp("next tuesday"); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestTimestampJSON(t *testing.T) {
	var e Event
	if err := json.Unmarshal([]byte(`{"id":1,"start_time":"2026-05-01T10:00:00","end_time":null,"created_at":""}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.StartTime.IsZero() || !e.EndTime.IsZero() || !e.CreatedAt.IsZero() {
		t.Fatalf("unexpected timestamps %+v", e)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"start_time":"2026-05-01T10:00:00Z"`) || !strings.Contains(s, `"end_time":null`) {
		t.Fatalf("unexpected encoding %s", s)
	}
}

func TestEventDraftJSON(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	capacity := 20
	draft := EventDraft{
		Title:     "Meetup",
		Location:  "Cafe",
		Capacity:  &capacity,
		StartTime: time.Date(2026, 6, 1, 20, 0, 0, 0, loc),
		EndTime:   time.Date(2026, 6, 1, 22, 0, 0, 0, loc),
	}
	out, err := json.Marshal(draft)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var body map[string]any
	_ = json.Unmarshal(out, &body)
	if body["start_time"] != "2026-06-01T18:00:00Z" || body["end_time"] != "2026-06-01T20:00:00Z" {
		t.Fatalf("times must be sent in UTC, got %s", out)
	}
	if body["capacity"] != 20.0 || body["description"] != nil {
		t.Fatalf("unexpected body %s", out)
	}
}

func TestEventDraftValidate(t *testing.T) {
	start := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	valid := EventDraft{Title: "T", Location: "L", StartTime: start, EndTime: start.Add(time.Hour)}
	negative := -1

	tests := []struct {
		name   string
		mutate func(d *EventDraft)
		ok     bool
	}{
		{"valid", func(d *EventDraft) {}, true},
		{"missing title", func(d *EventDraft) { d.Title = "  " }, false},
		{"missing location", func(d *EventDraft) { d.Location = "" }, false},
		{"missing start", func(d *EventDraft) { d.StartTime = time.Time{} }, false},
		{"end equals start", func(d *EventDraft) { d.EndTime = d.StartTime }, false},
		{"end before start", func(d *EventDraft) { d.EndTime = d.StartTime.Add(-time.Minute) }, false},
		{"negative capacity", func(d *EventDraft) { d.Capacity = &negative }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("expected ErrInvalidDraft, got %v", err)
			}
		})
	}
}

func TestPendingActionWireFormat(t *testing.T) {
	var actions []PendingAction
	if err := json.Unmarshal([]byte(`[{"type":"leave","eventId":4,"timestamp":1700000000000}]`), &actions); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionLeave || actions[0].EventID != 4 || actions[0].ID != "" {
		t.Fatalf("unexpected actions %+v", actions)
	}
}
