// Package report renders investigation runs and evaluation results for the
// terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
)

const maxObservationWidth = 100

// Run renders a run's incident, step timeline, outcome and, when given, its
// score.
func Run(run investigation.RunSnapshot, result *evaluator.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Investigation %s", run.ID)))
	b.WriteString("\n")
	field(&b, "Incident", fmt.Sprintf("%s (%s) %s", run.Incident.ID, run.Incident.Severity, run.Incident.Service))
	field(&b, "Summary", run.Incident.Description)
	field(&b, "Status", statusStyle(string(run.Status)).Render(string(run.Status)))
	field(&b, "Steps", fmt.Sprintf("%d/%d", run.StepCount, run.MaxSteps))
	if run.CompletedAt != nil {
		field(&b, "Duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
	}

	b.WriteString("\n")
	b.WriteString(timeline(run))

	if run.Hypothesis != nil {
		h := run.Hypothesis
		b.WriteString("\n")
		field(&b, "Hypothesis", fmt.Sprintf("%s (confidence %.2f, %s)", h.Description(), h.Confidence(), h.Status()))
	}
	if res := run.Resolution; res != nil {
		field(&b, "Resolution", resolution(*res))
	}
	if result != nil {
		b.WriteString("\n")
		b.WriteString(Score(*result))
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(textStyle.Render(value))
	b.WriteString("\n")
}

func timeline(run investigation.RunSnapshot) string {
	if len(run.Steps) == 0 {
		return mutedStyle.Render("  no steps") + "\n"
	}

	var b strings.Builder
	for _, s := range run.Steps {
		b.WriteString(stepNumberStyle.Render(fmt.Sprintf("  #%d ", s.Number)))
		b.WriteString(s.Decision)
		if s.ToolCall != nil {
			b.WriteString(" " + s.ToolCall.ToolName)
		}
		b.WriteString(" " + statusStyle(string(s.Status)).Render(string(s.Status)))
		if d, ok := s.Duration(); ok {
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" %dms", d.Milliseconds())))
		}
		b.WriteString("\n")
		if s.Observation != "" {
			b.WriteString(mutedStyle.Render("     " + truncate(s.Observation, maxObservationWidth)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func resolution(res investigation.Resolution) string {
	switch res.Type {
	case investigation.ResolutionMitigationProposed:
		return fmt.Sprintf("mitigation %q (confidence %.2f)", res.Description, res.Confidence)
	case investigation.ResolutionEscalated:
		if res.EscalationTarget != "" {
			return fmt.Sprintf("escalated to %s: %s", res.EscalationTarget, res.Reason)
		}
		return "escalated: " + res.Reason
	default:
		return res.Description
	}
}

// Score renders an evaluation result as a boxed breakdown.
func Score(r evaluator.Result) string {
	verdict := errorStyle.Render("FAIL")
	if r.Success {
		verdict = successStyle.Render("PASS")
	}

	lines := []string{
		fmt.Sprintf("%s  score %.2f", verdict, r.Score),
		fmt.Sprintf("mitigation %.2f  evidence %.2f  efficiency %.2f",
			r.Breakdown.Mitigation, r.Breakdown.Evidence, r.Breakdown.Efficiency),
	}
	if r.RootCauseIdentified {
		lines = append(lines, "root cause identified")
	}
	if len(r.Unidentified) > 0 {
		lines = append(lines, "missed: "+strings.Join(r.Unidentified, ", "))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)) + "\n"
}

// Entry is one row of a batch summary.
type Entry struct {
	Scenario  string
	RunID     string
	Status    investigation.RunStatus
	Steps     int
	Evaluated bool
	Success   bool
	Score     float64
	// Err is set when the scenario could not be run at all.
	Err error
}

// Summary renders a table of entries followed by a pass count.
func Summary(entries []Entry) string {
	rows := make([][]string, 0, len(entries))
	passed := 0
	for _, e := range entries {
		verdict, score := "-", "-"
		switch {
		case e.Err != nil:
			verdict = "ERROR"
		case e.Evaluated:
			score = fmt.Sprintf("%.2f", e.Score)
			verdict = "FAIL"
			if e.Success {
				verdict = "PASS"
				passed++
			}
		}
		status := string(e.Status)
		if e.Err != nil {
			status = truncate(e.Err.Error(), 40)
		}
		rows = append(rows, []string{e.Scenario, e.RunID, status, fmt.Sprint(e.Steps), score, verdict})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("SCENARIO", "RUN", "STATUS", "STEPS", "SCORE", "RESULT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			if col == 5 && row >= 0 && row < len(rows) {
				switch rows[row][5] {
				case "PASS":
					return cellStyle.Foreground(colorSuccess)
				case "FAIL", "ERROR":
					return cellStyle.Foreground(colorError)
				}
			}
			return cellStyle
		})

	return t.Render() + "\n" + mutedStyle.Render(fmt.Sprintf("%d/%d passed", passed, len(entries))) + "\n"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
