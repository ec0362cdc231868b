package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/crimson-sun/speedtrace/internal/model"
	"github.com/crimson-sun/speedtrace/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

var printer = message.NewPrinter(language.English)

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func latencyValue(s model.LatencyStats) string {
	if s.Count == 0 {
		return "no samples"
	}
	return printer.Sprintf("%.2f ms mean, %.2f ms median (n=%d)", s.Mean, s.Median, s.Count)
}

// renderReport draws one box per analyzed direction.
func renderReport(r *pipeline.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("speedtrace run"), r.ID)
	for _, res := range r.Results {
		tp := res.Throughput
		lines := []string{
			titleStyle.Render(strings.ToUpper(string(res.Direction))),
			row("events", printer.Sprintf("%d (%d undecodable)", res.EventCount, res.DecodeErrors)),
			row("streams", printer.Sprintf("%d on %d sockets, at most %d at once", len(res.Streams), tp.Sockets, tp.ConcurrentFlows)),
			row("transferred", printer.Sprintf("%d bytes in %.2f s (%.2f%% lost to splitting)",
				tp.TotalBytes, tp.DurationSeconds, tp.Validation.PercentByteLoss)),
			row("throughput", printer.Sprintf("%.2f Mbps mean, %.2f median, p10 %.2f, p90 %.2f",
				tp.Stats.Mean, tp.Stats.Median, tp.Stats.P10, tp.Stats.P90)),
			row("per socket", printer.Sprintf("%.2f Mbps mean over %d sockets",
				tp.SocketLevel.Stats.Mean, tp.SocketLevel.Sockets)),
			row("idle latency", latencyValue(res.Latency.Unloaded.Stats)),
			row("loaded latency", latencyValue(res.Latency.Loaded.Stats)),
			row("test latency", latencyValue(res.Latency.Test.Stats)),
		}
		for _, w := range res.Warnings {
			lines = append(lines, warnStyle.Render("! "+w.Kind+": "+w.Message))
		}
		b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%s\n", printer.Sprintf("analyzed %v in %v", directionsOf(r), r.Duration.Round(1e6)))
	return b.String()
}

// renderURLs summarizes a classification.
func renderURLs(r *pipeline.Run) string {
	u := r.URLs
	lines := []string{
		titleStyle.Render("classified urls"),
		row("download", printer.Sprintf("%d", len(u.Download))),
		row("upload", printer.Sprintf("%d", len(u.Upload))),
		row("idle latency", printer.Sprintf("%d", len(u.IdleLatency))),
		row("loaded latency", printer.Sprintf("%d", len(u.LoadedLatency))),
	}
	for _, f := range r.URLFiles {
		lines = append(lines, row("wrote", f))
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// renderRepair reports the state of a loaded capture.
func renderRepair(c *model.Capture) string {
	state := "capture was already complete"
	if c.Repaired {
		state = "capture repaired in place"
	}
	lines := []string{
		titleStyle.Render(state),
		row("file", c.Path),
		row("events", printer.Sprintf("%d", len(c.Events))),
		row("undecodable", printer.Sprintf("%d", len(c.DecodeErrors))),
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}
