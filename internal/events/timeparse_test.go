package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		value   string
		wantErr bool
		want    time.Time
	}{
		{"full datetime", "2024-03-16 09:00", false, time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)},
		{"bare time rolls to tomorrow if already past", "09:00", false, time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)},
		{"bare time stays today if still ahead", "20:00", false, time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)},
		{"today keyword", "today 20:00", false, time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)},
		{"tomorrow keyword", "tomorrow 09:00", false, time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)},
		{"garbage input", "whenever", true, time.Time{}},
		{"today without a time", "today", true, time.Time{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseWhen(tc.value, "UTC", now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}
}

func TestParseWhen_RequiresTimezone(t *testing.T) {
	_, err := parseWhen("2024-03-16 09:00", "", time.Now())
	assert.Error(t, err)
}

func TestParseWhen_RejectsInvalidTimezone(t *testing.T) {
	_, err := parseWhen("2024-03-16 09:00", "Not/A_Zone", time.Now())
	assert.Error(t, err)
}

func TestFormatDateTime(t *testing.T) {
	value := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-16 09:00", formatDateTime(value, "UTC"))
}
