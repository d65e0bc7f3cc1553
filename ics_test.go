package gatherly

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportICS(t *testing.T) {
	desc := "Bring snacks"
	start := time.Date(2026, 8, 1, 17, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: 1, Title: "Picnic", Location: "Park", Description: &desc,
			StartTime: Timestamp{start}, EndTime: Timestamp{start.Add(3 * time.Hour)}},
		{ID: 2, Title: "No times"},
	}

	out := ExportICS(events, "gatherly.test")

	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(out)))
	require.NoError(t, err)
	vevents := cal.Events()
	require.Len(t, vevents, 2)

	first := vevents[0]
	assert.Equal(t, "event-1@gatherly.test", first.GetProperty(ical.ComponentPropertyUniqueId).Value)
	assert.Equal(t, "Picnic", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Park", first.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Equal(t, "Bring snacks", first.GetProperty(ical.ComponentPropertyDescription).Value)

	gotStart, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(start), "start %v", gotStart)
	gotEnd, err := first.GetEndAt()
	require.NoError(t, err)
	assert.True(t, gotEnd.Equal(start.Add(3*time.Hour)), "end %v", gotEnd)

	second := vevents[1]
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyDtStart))
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyLocation))
}
