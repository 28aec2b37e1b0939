package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"coderev/internal/review"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether w is an interactive terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type printer struct {
	out      io.Writer
	json     bool
	colorize bool
}

func newPrinter(out io.Writer, jsonOutput bool) *printer {
	return &printer{out: out, json: jsonOutput, colorize: isTTY(out) && !color.NoColor}
}

func (p *printer) paint(fn func(a ...any) string, s string) string {
	if !p.colorize {
		return s
	}
	return fn(s)
}

func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) review(o review.ReviewOutcome) error {
	if p.json {
		return p.writeJSON(o)
	}
	var b strings.Builder
	p.writeReview(&b, o.Summary, o.Rating, o.Issues)
	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *printer) refactor(o review.RefactorOutcome) error {
	if p.json {
		return p.writeJSON(o)
	}
	var b strings.Builder
	p.writeRefactor(&b, o.RefactoredCode, o.ChangesMade, o.Diff)
	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *printer) combined(o review.CombinedOutcome) error {
	if p.json {
		return p.writeJSON(o)
	}
	var b strings.Builder
	p.writeReview(&b, o.Summary, o.Rating, o.Issues)
	b.WriteString("\n")
	p.writeRefactor(&b, o.RefactoredCode, o.ChangesMade, o.Diff)
	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *printer) health(url string) error {
	if p.json {
		return p.writeJSON(map[string]string{"status": "ok"})
	}
	_, err := fmt.Fprintf(p.out, "%s upstream %s is reachable\n", p.paint(green, "ok"), url)
	return err
}

func (p *printer) writeReview(b *strings.Builder, summary string, rating int, issues []review.Issue) {
	fmt.Fprintf(b, "%s %s\n", p.paint(bold, "Summary:"), summary)
	fmt.Fprintf(b, "%s %s\n", p.paint(bold, "Rating:"), p.ratingText(rating))
	if len(issues) == 0 {
		fmt.Fprintf(b, "%s\n", p.paint(gray, "No issues found"))
		return
	}
	fmt.Fprintf(b, "%s\n", p.paint(bold, "Issues:"))
	for _, issue := range issues {
		fmt.Fprintf(b, "  %s %s\n", p.paint(yellow, fmt.Sprintf("[%d]", issue.Line)), issue.Description)
	}
}

func (p *printer) ratingText(rating int) string {
	text := fmt.Sprintf("%d/10", rating)
	switch {
	case rating <= 3:
		return p.paint(red, text)
	case rating <= 6:
		return p.paint(yellow, text)
	default:
		return p.paint(green, text)
	}
}

func (p *printer) writeRefactor(b *strings.Builder, code string, changes []string, diff string) {
	fmt.Fprintf(b, "%s\n", p.paint(bold, "Changes:"))
	if len(changes) == 0 {
		fmt.Fprintf(b, "  %s\n", p.paint(gray, "none reported"))
	}
	for _, change := range changes {
		fmt.Fprintf(b, "  - %s\n", change)
	}
	if diff != "" {
		fmt.Fprintf(b, "%s\n", p.paint(bold, "Diff:"))
		for _, line := range strings.SplitAfter(diff, "\n") {
			switch {
			case strings.HasPrefix(line, "+ "):
				b.WriteString(p.paint(green, line))
			case strings.HasPrefix(line, "- "):
				b.WriteString(p.paint(red, line))
			default:
				b.WriteString(line)
			}
		}
		return
	}
	fmt.Fprintf(b, "%s\n", p.paint(bold, "Refactored code:"))
	b.WriteString(p.paint(cyan, code))
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
}
