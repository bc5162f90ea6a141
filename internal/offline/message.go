package offline

import (
	"fmt"
	"time"
)

// Message renders st as the status line shown to the player.
func Message(st Status) string {
	if !st.Offline {
		if st.QueuedCount == 0 {
			return "All changes synced."
		}
		return fmt.Sprintf("Syncing %d pending action(s)…", st.QueuedCount)
	}

	switch {
	case st.QueuedCount > 0 && st.HasCachedData:
		return fmt.Sprintf("You're offline. %d action(s) will sync when you reconnect. Showing cached data from %s ago.",
			st.QueuedCount, FormatAge(st.CacheAge))
	case st.QueuedCount > 0:
		return fmt.Sprintf("You're offline. %d action(s) will sync when you reconnect. No cached data available.",
			st.QueuedCount)
	case st.HasCachedData:
		return fmt.Sprintf("You're offline. Showing cached data from %s ago.", FormatAge(st.CacheAge))
	default:
		return "You're offline. Connect to the internet to load data."
	}
}

// FormatAge renders d in the largest whole unit.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
