package status

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

const (
	barWidth                 = 24
	defaultAlertThreshold    = 50
	sessionIDDisplayLength   = 8
	maxRenderedSessionsTotal = 50
)

type RenderOptions struct {
	Now            time.Time
	StaleAfter     time.Duration
	AlertThreshold int
}

var sessionStateOrder = []string{"active", "degraded", "reconnecting", "connecting"}

func renderView(status application.FleetStatus, opts RenderOptions, s styles) string {
	active := status.SessionsByState[domain.SessionActive.String()]
	header := fmt.Sprintf("sessions: %d/%d active", active, status.TargetSessions)
	if degraded := status.Degraded(); degraded > 0 {
		header += fmt.Sprintf(", %d degraded", degraded)
	}

	title := s.title.Render("Fleet Status")
	if stale(status.TakenAt, opts) {
		title += " " + s.warning.Render("[stale]")
	}

	lines := []string{
		title,
		s.header.Render(header),
		s.section.Render(renderSuspicion(status, opts, s)),
		s.section.Render(renderSessions(status, opts, s)),
		s.section.Render(renderPools(status.Pools, s)),
		s.section.Render(renderCounters(status, opts, s)),
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSuspicion(status application.FleetStatus, opts RenderOptions, s styles) string {
	threshold := opts.AlertThreshold
	if threshold <= 0 {
		threshold = defaultAlertThreshold
	}
	alert := status.SuspicionLevel > threshold

	fill := s.barFill
	if alert {
		fill = s.barAlert
	}
	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("suspicion:"),
		" ",
		renderProgressBar(float64(status.SuspicionLevel), barWidth, fill, s),
		" ",
		lipgloss.NewStyle().Foreground(interpolateColor(float64(status.SuspicionLevel), 0, domain.MaxSuspicionLevel)).
			Render(fmt.Sprintf("%3d/%d", status.SuspicionLevel, domain.MaxSuspicionLevel)),
	)
	if alert {
		line += " " + s.warning.Render("[alert]")
	}

	parts := []string{line}
	if len(status.ActiveCountermeasures) > 0 {
		parts = append(parts, s.detail.Render("countermeasures: "+strings.Join(status.ActiveCountermeasures, ", ")))
	} else {
		parts = append(parts, s.empty.Render("countermeasures: none"))
	}
	if !status.LastAssessedAt.IsZero() {
		parts = append(parts, s.meta.Render("assessed "+formatAgo(status.LastAssessedAt, opts.Now)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderSessions(status application.FleetStatus, opts RenderOptions, s styles) string {
	parts := []string{s.heading.Render("Sessions")}
	if len(status.Sessions) == 0 {
		parts = append(parts, s.empty.Render("No live sessions."))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	sessions := append([]application.SessionStatus(nil), status.Sessions...)
	sort.SliceStable(sessions, func(i, j int) bool {
		return stateRank(sessions[i].State) < stateRank(sessions[j].State)
	})

	for i, session := range sessions {
		if i == maxRenderedSessionsTotal {
			parts = append(parts, s.meta.Render(fmt.Sprintf("... %d more", len(sessions)-i)))
			break
		}
		parts = append(parts, sessionLine(session, opts, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func sessionLine(session application.SessionStatus, opts RenderOptions, s styles) string {
	id := session.ID
	if len(id) > sessionIDDisplayLength {
		id = id[:sessionIDDisplayLength]
	}

	fields := []string{
		s.session.Render(fmt.Sprintf("%-8s", id)),
		s.key.Render(fmt.Sprintf("%-9s", session.Role)),
		s.state(session.State).Render(fmt.Sprintf("%-12s", session.State)),
	}
	if session.Account != "" {
		fields = append(fields, s.detail.Render(fmt.Sprintf("%s via %s", session.Account, orDash(session.Route))))
	} else {
		fields = append(fields, s.empty.Render("no identity"))
	}
	if session.ReconnectAttempts > 0 {
		fields = append(fields, s.warning.Render(fmt.Sprintf("attempt %d", session.ReconnectAttempts)))
	}
	if !session.ActiveSince.IsZero() && session.State == domain.SessionActive.String() {
		fields = append(fields, s.meta.Render("up "+formatDuration(since(session.ActiveSince, opts.Now))))
	}

	return strings.Join(fields, " ")
}

func renderPools(pools []application.PoolStats, s styles) string {
	parts := []string{s.heading.Render("Pools")}
	if len(pools) == 0 {
		parts = append(parts, s.empty.Render("No pools loaded."))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	for _, pool := range pools {
		parts = append(parts, poolLine(pool, s))
		if len(pool.ByClass) > 0 {
			parts = append(parts, s.meta.Render("  classes: "+formatBreakdown(pool.ByClass)))
		}
		if len(pool.ByCountry) > 0 {
			parts = append(parts, s.meta.Render("  countries: "+formatBreakdown(pool.ByCountry)))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func poolLine(pool application.PoolStats, s styles) string {
	availablePercent := 0.0
	if pool.Total > 0 {
		availablePercent = float64(pool.Available) / float64(pool.Total) * 100
	}

	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render(fmt.Sprintf("%-12s", string(pool.Kind)+":")),
		" ",
		renderProgressBar(availablePercent, barWidth, s.barFill, s),
		" ",
		s.detail.Render(fmt.Sprintf("%d/%d available", pool.Available, pool.Total)),
		" ",
		s.meta.Render(fmt.Sprintf("(avg %.0f%%, %d in use)", pool.AverageSuccessRate*100, pool.CheckedOut)),
	)
	if pool.BelowFloor > 0 {
		line += " " + s.warning.Render(fmt.Sprintf("%d below floor", pool.BelowFloor))
	}
	return line
}

func renderCounters(status application.FleetStatus, opts RenderOptions, s styles) string {
	parts := []string{
		s.heading.Render("Counters"),
		s.detail.Render(fmt.Sprintf("ledger: %d events (%d appended, %d kinds)", status.Ledger.Size, status.Ledger.Appended, status.Ledger.UniqueKinds)),
		s.detail.Render(fmt.Sprintf("terminated: %d  handshake failures: %d  pool exhaustions: %d", status.Terminated, status.HandshakeFailures, status.PoolExhaustions)),
	}
	if status.PersistenceFailures > 0 || status.DroppedSnapshots > 0 {
		parts = append(parts, s.warning.Render(fmt.Sprintf("persistence failures: %d  dropped snapshots: %d", status.PersistenceFailures, status.DroppedSnapshots)))
	}
	if backoff := status.FleetBackoffUntil; !backoff.IsZero() && (opts.Now.IsZero() || backoff.After(opts.Now)) {
		parts = append(parts, s.warning.Render("opens paused "+formatUntil(backoff, opts.Now)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderProgressBar(percent float64, width int, fill lipgloss.Style, s styles) string {
	if width <= 0 {
		return ""
	}

	fraction := clampPercent(percent) / 100.0
	filled := int(math.Round(float64(width) * fraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func stale(takenAt time.Time, opts RenderOptions) bool {
	if opts.Now.IsZero() || opts.StaleAfter <= 0 || takenAt.IsZero() {
		return false
	}
	return opts.Now.Sub(takenAt) > opts.StaleAfter
}

func stateRank(state string) int {
	for i, s := range sessionStateOrder {
		if s == state {
			return i
		}
	}
	return len(sessionStateOrder)
}

func formatBreakdown(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func since(t, now time.Time) time.Duration {
	if now.IsZero() {
		return 0
	}
	return now.Sub(t)
}

func formatAgo(t, now time.Time) string {
	if now.IsZero() {
		return "at " + t.Format(time.RFC3339)
	}
	return formatDuration(now.Sub(t)) + " ago"
}

func formatUntil(t, now time.Time) string {
	if now.IsZero() {
		return "until " + t.Format(time.RFC3339)
	}
	return fmt.Sprintf("for %s (%s)", formatDuration(t.Sub(now)), t.Format("15:04:05"))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// 240 (faded grey) at min, 255 (bright white) at max on the ANSI 256 ramp
	interpolated := 240.0 + (255.0-240.0)*normalized
	return lipgloss.Color(fmt.Sprintf("%d", int(interpolated)))
}
