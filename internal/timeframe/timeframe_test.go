package timeframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RejectsDuplicateAndEmptyTF(t *testing.T) {
	_, err := NewRegistry([]Timeframe{{TF: "1D"}, {TF: "1D"}})
	assert.Error(t, err)

	_, err = NewRegistry([]Timeframe{{TF: ""}})
	assert.Error(t, err)
}

func TestRegistry_GetAndMustGet(t *testing.T) {
	reg, err := NewRegistry(DefaultSeed())
	require.NoError(t, err)

	tf, ok := reg.Get("1D")
	require.True(t, ok)
	assert.Equal(t, AlignmentTFDay, tf.AlignmentType)

	_, ok = reg.Get("does-not-exist")
	assert.False(t, ok)

	assert.Panics(t, func() { reg.MustGet("does-not-exist") })
}

func TestRegistry_Filter(t *testing.T) {
	reg, err := NewRegistry(DefaultSeed())
	require.NoError(t, err)

	calendar := reg.Filter(func(tf Timeframe) bool { return tf.IsCalendar() })
	for _, tf := range calendar {
		assert.Equal(t, AlignmentCalendar, tf.AlignmentType)
	}
	assert.NotEmpty(t, calendar)

	tfDay := reg.Filter(func(tf Timeframe) bool { return !tf.IsCalendar() })
	assert.Len(t, calendar, len(DefaultSeed())-len(tfDay))
}

func TestTimeframe_HasYearAnchor(t *testing.T) {
	anchor := Timeframe{RollPolicy: RollCalendarAnchor}
	assert.True(t, anchor.HasYearAnchor())

	none := Timeframe{RollPolicy: RollNone}
	assert.False(t, none.HasYearAnchor())
}

func TestTimeframe_WeekStartsMonday(t *testing.T) {
	assert.True(t, Timeframe{Scheme: SchemeISO}.WeekStartsMonday())
	assert.False(t, Timeframe{Scheme: SchemeUS}.WeekStartsMonday())
	assert.False(t, Timeframe{Scheme: SchemeNone}.WeekStartsMonday())
}

func TestDefaultSeed_HasExactlyOneCanonical(t *testing.T) {
	seed := DefaultSeed()
	canonical := 0
	for _, tf := range seed {
		if tf.Canonical {
			canonical++
		}
	}
	assert.Equal(t, 1, canonical)
}
