package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"golang.org/x/term"

	"github.com/dohr-michael/decoded/internal/generation"
)

const (
	colorPrimary = "#7C3AED" // top candidate, accepted tokens
	colorAccent  = "#60A5FA" // other candidates
	colorMuted   = "#6B7280" // seed text, hints
	colorError   = "#EF4444"
)

var (
	seedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	tokenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPrimary)).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true)
	topBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPrimary))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
)

// terminalWidth returns the width of stdout, or 80 when it is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// quoteToken makes leading spaces and newlines visible.
func quoteToken(tok string) string {
	return strconv.Quote(tok)
}

// barWidth scales a probability to a bar of at most max cells. Non-zero
// probabilities always get at least one cell.
func barWidth(p float64, max int) int {
	if max <= 0 || p <= 0 {
		return 0
	}
	if p > 1 {
		p = 1
	}
	n := int(p*float64(max) + 0.5)
	if n == 0 {
		n = 1
	}
	return n
}

// renderCandidates writes one ranked line per candidate:
//
//	0. " sunny"  ██████████████  81.9%
func renderCandidates(w io.Writer, cands []generation.Candidate, width int) {
	if len(cands) == 0 {
		fmt.Fprintln(w, hintStyle.Render("(no candidates)"))
		return
	}

	labels := make([]string, len(cands))
	labelWidth := 0
	for i, c := range cands {
		labels[i] = quoteToken(c.Token)
		if n := lipgloss.Width(labels[i]); n > labelWidth {
			labelWidth = n
		}
	}

	// index + label + two gaps + percentage
	maxBar := width - labelWidth - 16
	if maxBar > 40 {
		maxBar = 40
	}

	for i, c := range cands {
		style := barStyle
		if i == 0 {
			style = topBarStyle
		}
		bar := style.Render(strings.Repeat("█", barWidth(c.Probability, maxBar)))
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(labels[i]))
		fmt.Fprintf(w, "%2d. %s%s  %s %5.1f%%\n", i, labels[i], pad, bar, c.Probability*100)
	}
}

// renderText writes the seed muted and the accepted tokens highlighted.
func renderText(w io.Writer, snap generation.Snapshot) {
	fmt.Fprintln(w, seedStyle.Render(snap.Seed)+tokenStyle.Render(strings.Join(snap.AcceptedTokens, "")))
}
