package tui

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"stratsync-chat/internal/csvexport"
	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

const (
	maxCellWidth    = 24
	maxTableRows    = 20
	summaryPreviewN = 600
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// renderMessage renders one log entry. marked highlights the entry chosen
// in select mode.
func renderMessage(msg domain.Message, marked bool, busy string, width int) string {
	var b strings.Builder

	label := " ASSISTANT"
	style := assistantRoleStyle
	switch {
	case msg.Sender == domain.SenderUser:
		label, style = " YOU", userRoleStyle
	case msg.IsError:
		label, style = " ERROR", errorRoleStyle
	}
	mark := "  "
	if marked {
		mark = selectedMarkStyle.Render("▸ ")
	}
	b.WriteString(mark + style.Render(pad(label, 12)))
	for _, tag := range messageTags(msg) {
		b.WriteString(" " + tagStyle.Render("["+tag+"]"))
	}
	if busy != "" {
		b.WriteString(" " + dimStyle.Render(busy+"..."))
	}
	b.WriteString("\n")

	if msg.HasTable() {
		for _, line := range renderTable(msg.Table, width-2) {
			b.WriteString("  " + line + "\n")
		}
		return b.String()
	}
	for _, line := range wrapText(msg.Content, width-2) {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func messageTags(msg domain.Message) []string {
	var tags []string
	if msg.GeneratedOffer {
		tags = append(tags, "offer")
	}
	if msg.WasSummarized {
		tags = append(tags, "summarized")
	}
	return tags
}

// renderTable lays rows out as fixed-width columns. Columns that do not fit
// in width are dropped and counted in a trailing note.
func renderTable(rows []*jsonx.Object, width int) []string {
	cols := csvexport.Columns(rows)
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = min(lipgloss.Width(c), maxCellWidth)
	}
	shown := rows
	if len(shown) > maxTableRows {
		shown = shown[:maxTableRows]
	}
	for _, row := range shown {
		for i, c := range cols {
			v, _ := row.Get(c)
			widths[i] = min(max(widths[i], lipgloss.Width(csvexport.Cell(v))), maxCellWidth)
		}
	}

	fit, used := 0, 0
	for _, w := range widths {
		if fit > 0 && used+w+1 > width {
			break
		}
		used += w + 1
		fit++
	}

	header := make([]string, fit)
	for i := 0; i < fit; i++ {
		header[i] = pad(cols[i], widths[i])
	}
	lines := []string{tableHeaderStyle.Render(strings.Join(header, " "))}
	for _, row := range shown {
		cells := make([]string, fit)
		for i := 0; i < fit; i++ {
			v, _ := row.Get(cols[i])
			cells[i] = pad(truncate(csvexport.Cell(v), widths[i]), widths[i])
		}
		lines = append(lines, strings.Join(cells, " "))
	}

	var notes []string
	if hidden := len(rows) - len(shown); hidden > 0 {
		notes = append(notes, fmt.Sprintf("%d more rows", hidden))
	}
	if hidden := len(cols) - fit; hidden > 0 {
		notes = append(notes, fmt.Sprintf("%d more columns", hidden))
	}
	if len(notes) > 0 {
		lines = append(lines, dimStyle.Render("… "+strings.Join(notes, ", ")+" (export CSV for all)"))
	}
	return lines
}

// previewHTML reduces summary HTML to a short plain-text preview.
func previewHTML(s string) string {
	text := tagPattern.ReplaceAllString(s, " ")
	text = html.UnescapeString(text)
	text = strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
	return truncate(text, summaryPreviewN)
}

// wrapText splits text into lines that fit within maxWidth.
func wrapText(text string, maxWidth int) []string {
	if maxWidth < 10 {
		maxWidth = 10
	}
	var result []string
	for _, line := range strings.Split(text, "\n") {
		for lipgloss.Width(line) > maxWidth {
			head := cut(line, maxWidth)
			if head == "" {
				_, size := utf8.DecodeRuneInString(line)
				head = line[:size]
			}
			result = append(result, head)
			line = line[len(head):]
		}
		result = append(result, line)
	}
	return result
}

// cut returns the longest prefix of s that fits in width terminal cells.
func cut(s string, width int) string {
	used := 0
	for i, r := range s {
		w := lipgloss.Width(string(r))
		if used+w > width {
			return s[:i]
		}
		used += w
	}
	return s
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 1 {
		return cut(s, width)
	}
	return cut(s, width-1) + "…"
}

// pad fits s to exactly width cells. A wide rune that would straddle the
// edge is dropped and replaced by padding.
func pad(s string, width int) string {
	if lipgloss.Width(s) > width {
		s = cut(s, width)
	}
	return s + strings.Repeat(" ", width-lipgloss.Width(s))
}
