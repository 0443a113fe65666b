package cli

import (
	"strconv"
	"strings"
	"time"
)

// intervalFromCron extracts a coarse polling interval from a standard
// 5-field cron expression. Full cron scheduling is the job of the external
// installer (spec.md §1's "out of scope" crontab/launchd wrapper); in
// process the engine only needs a tick period, so it reads the minute
// field's "*/N" step and falls back to fallback when the expression is
// anything richer than that.
func intervalFromCron(expr string, fallback time.Duration) time.Duration {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fallback
	}
	minute := fields[0]
	if minute == "*" {
		return time.Minute
	}
	if step, ok := strings.CutPrefix(minute, "*/"); ok {
		if n, err := strconv.Atoi(step); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return fallback
}
