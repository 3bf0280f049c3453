package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// slurmTimestampLayout is the layout scontrol uses for SubmitTime and friends.
const slurmTimestampLayout = "2006-01-02T15:04:05"

// ParseTimeSpec parses a Slurm duration. Accepted forms are "M", "M:S",
// "H:M:S", "D-H", "D-H:M" and "D-H:M:S". Sentinels parse as zero.
func ParseTimeSpec(timeStr string) (time.Duration, error) {
	timeStr = strings.TrimSpace(timeStr)
	if isSentinel(timeStr) {
		return 0, nil
	}

	var days int64
	hms := timeStr
	withDays := false
	if idx := strings.Index(hms, "-"); idx >= 0 {
		parsed, err := strconv.ParseInt(hms[:idx], 10, 64)
		if err != nil || parsed < 0 {
			return 0, fmt.Errorf("%w: %s", ErrInvalidTimeFormat, timeStr)
		}
		days = parsed
		hms = strings.TrimSpace(hms[idx+1:])
		withDays = true
	}

	parts := strings.Split(hms, ":")
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %s", ErrInvalidTimeFormat, timeStr)
		}
		nums[i] = n
	}

	var hours, minutes, seconds int64
	switch {
	case len(nums) == 3:
		hours, minutes, seconds = nums[0], nums[1], nums[2]
	case len(nums) == 2 && withDays:
		hours, minutes = nums[0], nums[1]
	case len(nums) == 2:
		minutes, seconds = nums[0], nums[1]
	case len(nums) == 1 && withDays:
		hours = nums[0]
	case len(nums) == 1:
		minutes = nums[0]
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidTimeFormat, timeStr)
	}

	totalSeconds := days*24*3600 + hours*3600 + minutes*60 + seconds
	return time.Duration(totalSeconds) * time.Second, nil
}

// FormatTimeSpec renders d the way squeue prints durations.
func FormatTimeSpec(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int64(d.Seconds())
	days := total / (24 * 3600)
	rem := total % (24 * 3600)
	hours := rem / 3600
	rem %= 3600
	minutes := rem / 60
	seconds := rem % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// parseTimestamp reads an scontrol timestamp; sentinels give nil.
func parseTimestamp(s string) *time.Time {
	if isSentinel(s) {
		return nil
	}
	t, err := time.ParseInLocation(slurmTimestampLayout, s, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// isSentinel reports whether s is one of the placeholders Slurm prints
// for a missing value.
func isSentinel(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "N/A", "n/a", "UNLIMITED", "(null)", "None", "Unknown", "NONE":
		return true
	}
	return false
}

// sentinelToEmpty maps placeholders to "".
func sentinelToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if isSentinel(s) {
		return ""
	}
	return s
}
