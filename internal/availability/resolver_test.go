package availability

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent", "json")
}

func testDialog() config.DialogConfig {
	return config.DialogConfig{
		DefaultDurationMinutes: 30,
		SlotGranularityMinutes: 30,
		MaxCandidateSlots:      3,
	}
}

// 2026-03-02 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func testDoctor() *knowledge.Doctor {
	return &knowledge.Doctor{
		ID:         "dr-shah",
		Name:       "Dr. Anita Shah",
		CalendarID: "cal-shah",
		WorkingHours: map[string][]knowledge.HourRange{
			"monday": {{Start: "09:00", End: "12:00"}},
		},
	}
}

func TestFindSlotsRespectsWorkingHours(t *testing.T) {
	cal := calendar.NewMemory()
	r := New(cal, testDialog(), silentLog())

	// Caller asks for the whole day; only working hours qualify.
	slots, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: monday(0, 0), End: monday(23, 59)})
	require.NoError(t, err)
	require.Len(t, slots, 3)

	for _, s := range slots {
		assert.False(t, s.Start.Before(monday(9, 0)), "slot before opening: %v", s.Start)
		assert.False(t, s.End.After(monday(12, 0)), "slot past closing: %v", s.End)
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
}

func TestFindSlotsExcludesBusyTime(t *testing.T) {
	cal := calendar.NewMemory()
	cal.Seed("cal-shah", monday(9, 0), monday(10, 0))
	r := New(cal, testDialog(), silentLog())

	slots, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: monday(9, 0), End: monday(12, 0)})
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for _, s := range slots {
		assert.False(t, s.Start.Before(monday(10, 0)), "slot overlaps busy block: %v", s.Start)
	}
}

func TestFindSlotsRanksByPreferredStart(t *testing.T) {
	cal := calendar.NewMemory()
	r := New(cal, testDialog(), silentLog())

	// Preference at 10:30 should put 10:30 first, then the nearer
	// neighbors, earlier winning ties.
	slots, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: monday(10, 30), End: monday(12, 0)})
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, monday(10, 30), slots[0].Start)
	assert.Equal(t, monday(11, 0), slots[1].Start)
	assert.Equal(t, monday(11, 30), slots[2].Start)
}

func TestFindSlotsEmptyWhenFullyBooked(t *testing.T) {
	cal := calendar.NewMemory()
	cal.Seed("cal-shah", monday(9, 0), monday(12, 0))
	r := New(cal, testDialog(), silentLog())

	slots, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: monday(9, 0), End: monday(12, 0)})
	require.NoError(t, err)
	assert.Empty(t, slots, "no availability is an empty result, not an error")
}

func TestFindSlotsCalendarFault(t *testing.T) {
	cal := calendar.NewMemory()
	cal.FailListBusy = true
	r := New(cal, testDialog(), silentLog())

	_, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: monday(9, 0), End: monday(12, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCalendarUnavailable)
}

func TestFindSlotsSkipsNonWorkingDays(t *testing.T) {
	cal := calendar.NewMemory()
	r := New(cal, testDialog(), silentLog())

	// 2026-03-03 is a Tuesday; the test doctor only works Mondays.
	tuesday := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	slots, err := r.FindSlots(context.Background(), testDoctor(),
		domain.TimeWindow{Start: tuesday, End: tuesday.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, slots)
}
