package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarDate(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	// 00:30 BST on 15 June is 23:30 UTC on 14 June
	local := time.Date(2024, 6, 15, 0, 30, 0, 0, london)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), CalendarDate(local))
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), CalendarDate(local.UTC()))
}

func TestDayIn(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	late := time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-06-15", DayIn(late, london))
	assert.Equal(t, "2024-06-14", DayIn(late, nil))

	// Stored calendar dates stay on their day in London in both GMT and BST
	assert.Equal(t, "2024-01-10", DayIn(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), london))
	assert.Equal(t, "2024-06-15", DayIn(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), london))
}
