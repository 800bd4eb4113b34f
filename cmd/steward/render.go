package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/metalagman/steward/internal/history"
	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/router"
	"github.com/metalagman/steward/internal/thread"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cardStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	urgencyStyles = map[model.Urgency]lipgloss.Style{
		model.UrgencyCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		model.UrgencyHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		model.UrgencyMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		model.UrgencyLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

func urgencyLabel(u model.Urgency) string {
	label := strings.ToUpper(string(u))
	if style, ok := urgencyStyles[u]; ok {
		return style.Render(label)
	}
	return label
}

func renderCycle(w io.Writer, c model.Cycle) {
	fmt.Fprintln(w, titleStyle.Render("Cycle "+c.ID))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("trigger %s  agents %s  took %s",
		triggerLabel(c.Trigger.Type, c.Trigger.Name),
		strings.Join(c.AgentsSpawned, ", "),
		c.CompletedAt.Sub(c.StartedAt).Round(time.Millisecond))))

	for _, out := range c.AgentOutputs {
		status := okStyle.Render("ok")
		if !out.OK() {
			status = errStyle.Render("failed")
		}
		line := fmt.Sprintf("  %s %s: %d findings", status, out.Agent, len(out.Findings))
		if out.EscalationNeeded {
			line += " (escalation: " + out.EscalationReason + ")"
		}
		fmt.Fprintln(w, line)
		for _, e := range out.Errors {
			fmt.Fprintln(w, "    "+errStyle.Render(e))
		}
	}

	fmt.Fprintln(w)
	if len(c.Surfaced) == 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Nothing surfaced (%d findings scored)", len(c.ScoredFindings))))
	} else {
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Surfaced %d of %d", len(c.Surfaced), len(c.ScoredFindings))))
		for _, sf := range c.Surfaced {
			fmt.Fprintln(w, cardStyle.Render(findingCard(sf)))
		}
	}

	if len(c.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Errors"))
		for _, e := range c.Errors {
			fmt.Fprintln(w, "  "+errStyle.Render(e))
		}
	}
}

func findingCard(sf model.ScoredFinding) string {
	f := sf.Finding
	lines := []string{
		fmt.Sprintf("%s %s", urgencyLabel(f.Urgency), titleStyle.Render(f.Summary)),
		dimStyle.Render(fmt.Sprintf("%s · %s · salience %.2f", sf.Agent, f.Type, sf.Salience)),
	}
	if f.Detail != "" {
		lines = append(lines, f.Detail)
	}
	if f.SuggestedAction != "" {
		lines = append(lines, "→ "+f.SuggestedAction)
	}
	return strings.Join(lines, "\n")
}

func triggerLabel(t model.TriggerType, name string) string {
	if name == "" {
		return string(t)
	}
	return fmt.Sprintf("%s (%s)", t, name)
}

func renderSummaries(w io.Writer, rows []history.Summary) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no cycles recorded"))
		return
	}
	for _, s := range rows {
		errs := fmt.Sprintf("%d errors", s.Errors)
		if s.Errors > 0 {
			errs = errStyle.Render(errs)
		}
		fmt.Fprintf(w, "%s  %s  %-24s  %d agents  %d surfaced  %s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04"), triggerLabel(s.TriggerType, s.TriggerName), s.Agents, s.Surfaced, errs)
	}
}

func renderResolution(w io.Writer, res router.Resolution) {
	if res.Agent == "" {
		fmt.Fprintln(w, errStyle.Render("no agent resolved"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(res.Agent), dimStyle.Render("("+res.Reason+")"))
	if aff := res.MatchedAffinity; aff != nil {
		parts := []string{}
		if aff.ContextMatch != "" {
			parts = append(parts, "context_match "+aff.ContextMatch)
		}
		if len(aff.TaskTypes) > 0 {
			parts = append(parts, "task_types "+strings.Join(aff.TaskTypes, ","))
		}
		parts = append(parts, fmt.Sprintf("priority %d", aff.Priority))
		fmt.Fprintln(w, dimStyle.Render("  "+strings.Join(parts, "  ")))
	}
}

func renderLanes(w io.Writer, lanes []thread.Lane) {
	if len(lanes) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no pending thread tasks"))
		return
	}
	for _, l := range lanes {
		fmt.Fprintln(w, titleStyle.Render(l.Key))
		if l.Current != nil {
			fmt.Fprintf(w, "  %s %s (priority %d)\n", okStyle.Render("running"), l.Current.ID, l.Current.Priority)
		}
		for _, t := range l.Queued {
			fmt.Fprintf(w, "  %s  %s (priority %d)\n", dimStyle.Render("queued"), t.ID, t.Priority)
		}
	}
}
