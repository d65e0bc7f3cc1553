package gatherly

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ExportICS renders events as an iCalendar document, one VEVENT per event.
// UIDs are stable across exports so calendar apps update instead of
// duplicating.
func ExportICS(events []Event, host string) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//Gatherly//Events//EN")

	stamp := time.Now().UTC()
	for _, e := range events {
		ve := cal.AddEvent(fmt.Sprintf("event-%d@%s", e.ID, host))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(e.Title)
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if e.Description != nil && *e.Description != "" {
			ve.SetDescription(*e.Description)
		}
		if !e.StartTime.IsZero() {
			ve.SetStartAt(e.StartTime.UTC())
		}
		if !e.EndTime.IsZero() {
			ve.SetEndAt(e.EndTime.UTC())
		}
		if !e.CreatedAt.IsZero() {
			ve.SetCreatedTime(e.CreatedAt.UTC())
		}
		if !e.UpdatedAt.IsZero() {
			ve.SetModifiedAt(e.UpdatedAt.UTC())
		}
	}
	return cal.Serialize()
}
