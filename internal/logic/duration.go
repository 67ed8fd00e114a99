package logic

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders a dwell duration at minute resolution:
// minutes below an hour, hours and minutes below a day, days, hours and minutes otherwise.
// Zero-valued parts after the leading unit are omitted.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	if total < 60 {
		return unit(total, "minute")
	}

	days := total / (24 * 60)
	hours := total / 60 % 24
	minutes := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, unit(days, "day"))
		if hours > 0 {
			parts = append(parts, unit(hours, "hour"))
		}
	} else {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	return strings.Join(parts, " ")
}

func unit(n int, name string) string {
	if n == 1 {
		return "1 " + name
	}
	return fmt.Sprintf("%d %ss", n, name)
}
