package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(startHour, endHour int) TimeWindow {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return TimeWindow{
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}
}

func TestTimeWindowOverlaps(t *testing.T) {
	assert.True(t, window(9, 11).Overlaps(window(10, 12)))
	assert.True(t, window(10, 12).Overlaps(window(9, 11)))
	assert.True(t, window(9, 12).Overlaps(window(10, 11)))

	// Half-open ranges: touching boundaries do not overlap.
	assert.False(t, window(9, 10).Overlaps(window(10, 11)))
	assert.False(t, window(10, 11).Overlaps(window(9, 10)))
}

func TestSlotsMergeLastWriteWins(t *testing.T) {
	s := Slots{CallerIdentity: "pat-1"}

	w1 := window(9, 10)
	s.Merge(SlotUpdates{Intent: IntentBook, PreferredDoctor: "Shah", PreferredWindow: &w1})
	require.NotNil(t, s.PreferredWindow)
	assert.Equal(t, w1, *s.PreferredWindow)

	// A later mention overwrites the window without touching other slots.
	w2 := window(14, 16)
	s.Merge(SlotUpdates{PreferredWindow: &w2})
	assert.Equal(t, w2, *s.PreferredWindow)
	assert.Equal(t, "Shah", s.PreferredDoctor)
	assert.Equal(t, IntentBook, s.Intent)
	assert.Equal(t, "pat-1", s.CallerIdentity)
}

func TestSlotsMergeIgnoresUnknownIntent(t *testing.T) {
	s := Slots{Intent: IntentBook}
	s.Merge(SlotUpdates{Intent: IntentUnknown})
	assert.Equal(t, IntentBook, s.Intent)
}

func TestSlotsMergeCopiesWindow(t *testing.T) {
	s := Slots{}
	w := window(9, 10)
	s.Merge(SlotUpdates{PreferredWindow: &w})

	w.Start = w.Start.Add(time.Hour)
	assert.Equal(t, window(9, 10), *s.PreferredWindow, "merged window must not alias the update")
}

func TestSlotsHas(t *testing.T) {
	s := Slots{}
	assert.False(t, s.Has("callerIdentity"))
	assert.False(t, s.Has("window"))
	assert.False(t, s.Has("nonsense"))

	s.CallerIdentity = "unknown"
	assert.False(t, s.Has("callerIdentity"), "the unidentified sentinel does not count")

	s.CallerIdentity = "pat-1"
	s.PreferredDoctor = "Shah"
	w := window(9, 10)
	s.PreferredWindow = &w
	s.Reason = "fever"
	s.RelatedAppointmentID = "appt-1"

	for _, name := range []string{"callerIdentity", "doctor", "window", "reason", "relatedAppointmentId"} {
		assert.True(t, s.Has(name), name)
	}
}

func TestSlotUpdatesIsEmpty(t *testing.T) {
	assert.True(t, SlotUpdates{}.IsEmpty())
	assert.True(t, SlotUpdates{Intent: IntentUnknown}.IsEmpty())
	assert.False(t, SlotUpdates{Reason: "fever"}.IsEmpty())
}

func TestIdempotencyKeys(t *testing.T) {
	assert.Equal(t, "call-1:3", SessionActionKey("call-1", 3))
	assert.Equal(t, "reminder:appt-9:cancel", ReminderActionKey("appt-9", ActionCancel))

	// Same action, different entry points, different keys.
	assert.NotEqual(t, SessionActionKey("appt-9", 1), ReminderActionKey("appt-9", ActionCancel))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateEscalated.Terminal())
	assert.True(t, StateTerminated.Terminal())
	assert.False(t, StateCollecting.Terminal())
	assert.False(t, StateCommitting.Terminal())
}

func TestTransientErrorWrapping(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("calendar read", base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(ErrSlotConflict))
}

func TestOrphanedErrorWrapsCause(t *testing.T) {
	err := &OrphanedError{CancelledAppointmentID: "appt-1", Err: ErrSlotConflict}

	assert.ErrorIs(t, err, ErrSlotConflict)
	var orphaned *OrphanedError
	require.ErrorAs(t, error(err), &orphaned)
	assert.Equal(t, "appt-1", orphaned.CancelledAppointmentID)
	assert.Contains(t, err.Error(), "appt-1")
}
