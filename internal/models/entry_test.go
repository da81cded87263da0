package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryStatus(t *testing.T) {
	for _, s := range []EntryStatus{StatusActive, StatusPaused, StatusCompleted, StatusStopped} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, EntryStatus("finished").Valid())
	assert.False(t, EntryStatus("").Valid())

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusStopped.Terminal())
	assert.False(t, StatusPaused.Terminal())
}

func TestTimeEntry_Contains(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	e := &TimeEntry{StartTime: start, EndTime: &end, Status: StatusCompleted}

	assert.True(t, e.Contains(start), "start is inclusive")
	assert.True(t, e.Contains(end), "end is inclusive")
	assert.True(t, e.Contains(start.Add(30*time.Minute)))
	assert.False(t, e.Contains(start.Add(-time.Millisecond)))
	assert.False(t, e.Contains(end.Add(time.Millisecond)))

	open := &TimeEntry{StartTime: start, Status: StatusActive}
	assert.False(t, open.Contains(start.Add(time.Minute)))
}
