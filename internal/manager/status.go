package manager

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/solsol/solsol/internal/workers"
)

var printer = message.NewPrinter(language.English)

const separator = "  ⦁  "

// systemStatus is the gauge line.
func systemStatus(now time.Time, online bool, ping, offset time.Duration, boardLocked bool) string {
	parts := []string{"Current time UTC " + now.UTC().Format("2006-01-02 15:04:05")}
	if online {
		parts = append(parts, "Connected to the internet")
	} else {
		parts = append(parts, "Not connected to the internet")
	}
	parts = append(parts,
		fmt.Sprintf("Ping %.3fs", ping.Seconds()),
		fmt.Sprintf("Time difference with server %+.3fs", offset.Seconds()))
	if boardLocked {
		parts = append(parts, "Board locked")
	} else {
		parts = append(parts, "Board unlocked")
	}
	return strings.Join(parts, separator)
}

// presenceText renders "N active" followed by one line per worker.
func presenceText[K comparable](presences map[K]bool, name func(K) string) string {
	names := make([]string, 0, len(presences))
	busy := make(map[string]bool, len(presences))
	for k, active := range presences {
		n := name(k)
		names = append(names, n)
		busy[n] = active
	}
	sort.Strings(names)

	active := 0
	lines := make([]string, 0, len(names))
	for _, n := range names {
		state := "Inactive"
		if busy[n] {
			state = "Active"
			active++
		}
		lines = append(lines, n+": "+state)
	}
	return fmt.Sprintf("%d active\n\n%s", active, strings.Join(lines, "\n"))
}

// poolStats renders task counters with thousands separators.
func poolStats(m workers.PoolMetrics) string {
	var avg time.Duration
	if finished := m.TasksCompleted + m.TasksFailed; finished > 0 {
		avg = m.TotalDuration / time.Duration(finished)
	}
	counts := printer.Sprintf("Submitted %d\nCompleted %d\nFailed %d",
		m.TasksSubmitted, m.TasksCompleted, m.TasksFailed)
	return counts + fmt.Sprintf("\nAverage %.6fs", avg.Seconds())
}
