package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	loc, err = LoadLocation("Asia/Riyadh")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Riyadh", loc.String())

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}

func TestYesterday(t *testing.T) {
	riyadh := MustLoadLocation("Asia/Riyadh")

	// 22:30 UTC on Jan 4 is already Jan 5 in Riyadh (UTC+3).
	now := time.Date(2025, 1, 4, 22, 30, 0, 0, time.UTC)
	y := Yesterday(now, riyadh)
	assert.Equal(t, time.Date(2025, 1, 4, 0, 0, 0, 0, riyadh), y)

	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), Yesterday(now, time.UTC))
}

func TestYesterday_AcrossDST(t *testing.T) {
	ny := MustLoadLocation("America/New_York")

	// DST started on 2025-03-09: that day had 23 hours.
	now := time.Date(2025, 3, 10, 0, 30, 0, 0, ny)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, ny), Yesterday(now, ny))
}
