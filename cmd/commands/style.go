package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"golang.org/x/term"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

var (
	colorOK     = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorError  = lipgloss.Color("#EF4444")
	colorMuted  = lipgloss.Color("#6B7280")
	colorAccent = lipgloss.Color("#60A5FA")
	colorBorder = lipgloss.Color("#374151")

	okStyle     = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// printer writes command output, styled only when stdout is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter() *printer {
	return &printer{w: os.Stdout, color: term.IsTerminal(int(os.Stdout.Fd()))}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

// field prints an aligned "Label: value" line.
func (p *printer) field(label, value string) {
	p.printf("%s %s\n", p.render(labelStyle, fmt.Sprintf("%-12s", label+":")), value)
}

// table prints rows under headers: a bordered table on a terminal, tab
// separated columns otherwise.
func (p *printer) table(headers []string, rows [][]string) error {
	if !p.color {
		w := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(w, strings.Join(r, "\t"))
		}
		return w.Flush()
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	p.println(t.String())
	return nil
}

func (p *printer) outcome(o pipeline.Outcome) string {
	switch o {
	case pipeline.OutcomeSuccess:
		return p.render(okStyle, o.String())
	case pipeline.OutcomeNoOp:
		return p.render(mutedStyle, o.String())
	default:
		return p.render(errorStyle, o.String())
	}
}

// stage prints one stage result line.
func (p *printer) stage(n int, r pipeline.StageResult) {
	line := fmt.Sprintf("%2d. %-9s %s  %s", n, r.Stage, p.outcome(r.Outcome), r.Message)
	if len(r.Failed) > 0 {
		line += p.render(warnStyle, " failed="+joinIDs(r.Failed))
	}
	p.println(line + p.render(mutedStyle, " ("+r.Duration.Round(time.Millisecond).String()+")"))
}

// run prints a run's steps and its single status line.
func (p *printer) run(res pipeline.RunResult) {
	for i, s := range res.Steps {
		p.stage(i+1, s)
	}
	status := string(res.Status)
	if res.Reason != "" {
		status += " (" + res.Reason + ")"
	}
	style := okStyle
	if res.Status != pipeline.StatusDone {
		style = errorStyle
	}
	p.printf("%s %s\n", p.render(style, status), res.Message)
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
