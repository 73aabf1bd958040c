package printer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatMemory(t *testing.T) {
	tests := map[string]struct {
		bytes int64
		exp   string
	}{
		"An unset limit should be a dash.": {
			bytes: 0,
			exp:   "-",
		},
		"A limit below a KiB should be in bytes.": {
			bytes: 900,
			exp:   "900B",
		},
		"A whole MiB limit should have no decimals.": {
			bytes: 512 * 1024 * 1024,
			exp:   "512MiB",
		},
		"A fractional GiB limit should have one decimal.": {
			bytes: 1536 * 1024 * 1024,
			exp:   "1.5GiB",
		},
		"A limit over the largest unit should stay in that unit.": {
			bytes: 2048 * 1024 * 1024 * 1024 * 1024,
			exp:   "2048TiB",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, formatMemory(test.bytes))
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		created time.Time
		exp     string
	}{
		"A run created in the last second should be now.": {
			created: now.Add(-300 * time.Millisecond),
			exp:     "now",
		},
		"A clock skewed run should be now.": {
			created: now.Add(time.Minute),
			exp:     "now",
		},
		"A run created seconds ago should be in seconds.": {
			created: now.Add(-42 * time.Second),
			exp:     "42s",
		},
		"A run created minutes ago should be in whole minutes.": {
			created: now.Add(-(3*time.Minute + 59*time.Second)),
			exp:     "3m",
		},
		"A run created hours ago should be in hours.": {
			created: now.Add(-5 * time.Hour),
			exp:     "5h",
		},
		"A run created days ago should be in days.": {
			created: now.Add(-50 * time.Hour),
			exp:     "2d",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, formatAge(test.created, now))
		})
	}
}

func TestFormatEventTime(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 15, 250_000_000, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2024-05-01T10:30:15.250Z", formatEventTime(ts))
}
