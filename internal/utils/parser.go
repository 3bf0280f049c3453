package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var sizeRe = regexp.MustCompile(`^(\d+)([KMGT]B?)?$`)

// ParseSizeToMB reads a Slurm memory size ("64G", "500M", "2048K", "1024")
// as megabytes. A bare number is MB, as with sbatch --mem. Kilobytes round
// up to the next MB.
func ParseSizeToMB(size string) (int64, error) {
	m := sizeRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(size)))
	if m == nil {
		return 0, fmt.Errorf("invalid size %q (expected e.g. 64G, 500M)", size)
	}
	val, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	switch strings.TrimSuffix(m[2], "B") {
	case "K":
		return (val + 1023) / 1024, nil
	case "G":
		return val << 10, nil
	case "T":
		return val << 20, nil
	default:
		return val, nil
	}
}

// ParseDuration reads a Go duration ("2h", "1h30m") or a clock form:
// "HH:MM:SS", or "H:MM" read as hours and minutes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if !strings.Contains(s, ":") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q (use 2h, 30m, 1h30m or 02:00:00)", s)
		}
		return d, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q (use HH:MM:SS or HH:MM)", s)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q: bad field %q", s, p)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}
