// Package rank turns per-player finish records into leaderboard standings.
package rank

import (
	"fmt"
	"sort"
)

// EliminatedMarker is rendered in place of a time for players who died or
// left before finishing.
const EliminatedMarker = "ELIMINATED"

// Record is one player's terminal result within the current match.
type Record struct {
	PlayerID   string
	Name       string
	IGTMs      int64
	RTAMs      int64
	Eliminated bool
}

// Entry is a display-ready leaderboard row.
type Entry struct {
	Name string
	Time string
}

// Standings orders finish records for display: eliminated records sort
// after all finishers, finishers ascend by real time, and ties keep input
// order. The input slice is not modified.
func Standings(records []Record) []Entry {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Eliminated != b.Eliminated {
			return !a.Eliminated
		}
		if a.Eliminated {
			return false
		}
		return a.RTAMs < b.RTAMs
	})

	entries := make([]Entry, 0, len(sorted))
	for _, r := range sorted {
		time := EliminatedMarker
		if !r.Eliminated {
			ms := r.RTAMs
			if ms < 0 {
				ms = 0
			}
			time = FormatMillis(ms)
		}
		entries = append(entries, Entry{Name: r.Name, Time: time})
	}
	return entries
}

// Winner returns the earliest non-eliminated finisher by real time, or
// false when every record is an elimination.
func Winner(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if r.Eliminated {
			continue
		}
		if !found || r.RTAMs < best.RTAMs {
			best = r
			found = true
		}
	}
	return best, found
}

// FormatMillis renders a run time as m:ss.mmm, with an hours part once the
// run crosses the hour.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	millis := ms % 1000
	totalSeconds := ms / 1000
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", hours, minutes, seconds, millis)
	}
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}
