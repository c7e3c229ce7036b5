package usage

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// DefaultWindow is how recent a log line must be to count as online.
const DefaultWindow = 10 * time.Second

const logTimeLayout = "2006/01/02 15:04:05"

var accessLine = regexp.MustCompile(`(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}).*email:\s+(\S+)`)

// ProbableOnline scans the tail of the access log for users with recent
// connections. It is a display heuristic only; a missing or unreadable
// log yields nobody online.
func (t *Tracker) ProbableOnline(ctx context.Context) map[string]bool {
	if t.logPath == "" {
		return map[string]bool{}
	}
	lines, err := TailFile(t.logPath, t.tail)
	if err != nil {
		t.log.Debug("access log unavailable", "path", t.logPath, "err", err)
		return map[string]bool{}
	}
	return onlineSet(lines, t.now(), t.window)
}

// IsProbablyOnline reports whether username appears in lines within
// DefaultWindow of now.
func IsProbablyOnline(username string, lines []string, now time.Time) bool {
	return onlineSet(lines, now, DefaultWindow)[username]
}

func onlineSet(lines []string, now time.Time, window time.Duration) map[string]bool {
	if window <= 0 {
		window = DefaultWindow
	}
	seen := make(map[string]bool)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if strings.Contains(line, "rejected") {
			continue
		}
		m := accessLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation(logTimeLayout, m[1], now.Location())
		if err != nil {
			continue
		}
		if now.Sub(ts) < window {
			seen[m[2]] = true
		}
	}
	return seen
}
