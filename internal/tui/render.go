package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(14)
	goodStyle  = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// aqiStyle colors an index by severity band.
func aqiStyle(aqi int) lipgloss.Style {
	switch {
	case aqi <= 50:
		return goodStyle
	case aqi <= 150:
		return warnStyle
	default:
		return badStyle
	}
}

func renderStatus(st *StatusView, snap *SnapshotView) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Conditions") + "\n")
	if snap == nil {
		b.WriteString(helpStyle.Render("  No environmental data yet.") + "\n")
	} else {
		place := snap.City
		if place == "" {
			place = "current location"
		}
		if snap.Cached {
			place += " (cached)"
		}
		if snap.Stale {
			place += " (stale)"
		}
		b.WriteString(row("Location", place))
		b.WriteString(row("AQI", aqiStyle(snap.AQI).Render(fmt.Sprintf("%d %s", snap.AQI, snap.Category))))
		b.WriteString(row("PM2.5", fmt.Sprintf("%.1f µg/m³", snap.PM25)))
		b.WriteString(row("Weather", fmt.Sprintf("%.1f°C %s", snap.TemperatureC, snap.Condition)))
		b.WriteString(row("Source", snap.Source))
		b.WriteString(row("Advice", snap.Advice))
	}

	b.WriteString("\n" + titleStyle.Render("Sync") + "\n")
	if st == nil {
		b.WriteString(helpStyle.Render("  Daemon unreachable.") + "\n")
		return b.String()
	}
	b.WriteString(row("Queued", fmt.Sprintf("%d", st.QueuedCount)))
	b.WriteString(row("Dropped", fmt.Sprintf("%d", st.DroppedCount)))
	last := "never"
	if !st.LastSyncAt.IsZero() {
		last = formatDuration(time.Since(st.LastSyncAt)) + " ago"
	}
	b.WriteString(row("Last sync", last))
	if st.Syncing {
		b.WriteString(row("", warnStyle.Render("syncing…")))
	}
	return b.String()
}

func renderQueue(items []PendingItem) string {
	if len(items) == 0 {
		return helpStyle.Render("  Queue is empty. Everything is synced.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Pending actions (%d)", len(items))) + "\n")
	for _, it := range items {
		line := fmt.Sprintf("  %s  %-16s  tries:%d  %s ago",
			shortID(it.ID), it.Kind, it.Attempts, formatDuration(time.Since(it.EnqueuedAt)))
		b.WriteString(line + "\n")
		if it.LastError != "" {
			b.WriteString(offlineStyle.Render("      "+it.LastError) + "\n")
		}
	}
	return b.String()
}

func renderSession(s *SessionView) string {
	if s == nil {
		return helpStyle.Render("  No active session. Type /start <mission> to begin.")
	}

	var b strings.Builder
	phase := warnStyle.Render(s.Phase)
	switch s.Phase {
	case "succeeded":
		phase = goodStyle.Render(s.Phase)
	case "failed":
		phase = badStyle.Render(s.Phase)
	}

	b.WriteString(titleStyle.Render("Session "+shortID(s.SessionID)) + "  " + phase + "\n")
	b.WriteString(row("AQI", fmt.Sprintf("%s → target %d (baseline %d)",
		aqiStyle(s.CurrentAQI).Render(fmt.Sprintf("%d", s.CurrentAQI)), s.TargetAQI, s.BaselineAQI)))
	b.WriteString(row("Time left", formatDuration(s.TimeRemaining)))
	b.WriteString(row("Health", bar(s.Health, 100, 20)))
	b.WriteString(row("Energy", bar(s.Energy, 100, 20)))
	b.WriteString(row("Credits", fmt.Sprintf("%d", s.Credits)))
	if s.Location != "" {
		where := s.Location
		if s.Sheltered {
			where = goodStyle.Render(where + " (safe zone)")
		}
		b.WriteString(row("Location", where))
	}
	b.WriteString(row("Actions", fmt.Sprintf("%d", s.Actions)))
	if s.Score > 0 {
		b.WriteString(row("Score", fmt.Sprintf("%d", s.Score)))
	}

	if len(s.Cooldowns) > 0 {
		names := make([]string, 0, len(s.Cooldowns))
		for name := range s.Cooldowns {
			names = append(names, name)
		}
		sort.Strings(names)
		var cds []string
		for _, name := range names {
			cds = append(cds, fmt.Sprintf("%s %s", name, formatDuration(s.Cooldowns[name])))
		}
		b.WriteString(row("Cooldowns", strings.Join(cds, ", ")))
	}
	return b.String()
}

// bar renders v out of total as a fixed-width gauge.
func bar(v, total float64, width int) string {
	if total <= 0 {
		return ""
	}
	filled := int(v / total * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return aqiStyle(int(100-v)).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %.0f", v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
