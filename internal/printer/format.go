package printer

import (
	"fmt"
	"time"
)

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// formatMemory formats a memory limit with binary units (e.g. 512MiB, 1.5GiB).
func formatMemory(n int64) string {
	if n <= 0 {
		return "-"
	}

	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%s", int64(v), byteUnits[unit])
	}
	return fmt.Sprintf("%.1f%s", v, byteUnits[unit])
}

// formatAge is the compact age of a run relative to now (e.g. 42s, 3m, 5h, 2d).
func formatAge(created, now time.Time) string {
	d := now.Sub(created)
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
}

// formatEventTime is the audit event timestamp with millisecond precision, in UTC.
func formatEventTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
