package heapdump

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"heapkit/internal/object"
)

// RenderOptions controls table rendering.
type RenderOptions struct {
	// Width is the terminal width; values are truncated to fit. Zero means 100.
	Width int
	// Kind filters rows by kind label; empty renders all kinds.
	Kind string
	// Limit caps the number of rows; zero renders all.
	Limit int
}

type column struct {
	title string
	width int
}

// Render writes s to w as a table. Colors are enabled only when w is a
// terminal that supports them.
func Render(w io.Writer, s *Snapshot, opts RenderOptions) error {
	r := lipgloss.NewRenderer(w)
	titleStyle := r.NewStyle().Bold(true)
	headStyle := r.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	rootStyle := r.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle := r.NewStyle().Foreground(lipgloss.Color("8"))

	width := opts.Width
	if width <= 0 {
		width = 100
	}
	counted := s.Strategy == object.Counted.String()
	cols := []column{{"ID", 6}, {"KIND", 8}, {"LEN", 5}}
	if counted {
		cols = append(cols, column{"RC", 5})
	} else {
		cols = append(cols, column{"ROOT", 5})
	}
	used := 0
	for _, c := range cols {
		used += c.width + 1
	}
	valueWidth := width - used
	if valueWidth < 16 {
		valueWidth = 16
	}
	cols = append(cols, column{"VALUE", valueWidth})

	var b strings.Builder
	b.WriteString(titleStyle.Render(s.Summary()))
	b.WriteString("\n")
	if !s.TakenAt.IsZero() {
		b.WriteString(dimStyle.Render("taken " + s.TakenAt.Format("2006-01-02 15:04:05 MST")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	head := make([]string, len(cols))
	for i, c := range cols {
		head[i] = cell(c.title, c.width)
	}
	b.WriteString(headStyle.Render(strings.Join(head, " ")))
	b.WriteString("\n")

	shown := 0
	for _, rec := range s.Objects {
		if opts.Kind != "" && rec.Kind != opts.Kind {
			continue
		}
		if opts.Limit > 0 && shown >= opts.Limit {
			fmt.Fprintf(&b, "%s\n", dimStyle.Render(fmt.Sprintf("... %d more", countKind(s.Objects, opts.Kind)-shown)))
			break
		}
		shown++
		row := []string{
			cell("#"+strconv.FormatUint(rec.ID, 10), cols[0].width),
			cell(rec.Kind, cols[1].width),
			cell(strconv.Itoa(int(rec.Length)), cols[2].width),
		}
		if counted {
			row = append(row, cell(strconv.FormatUint(uint64(rec.RefCount), 10), cols[3].width))
		} else if rec.Rooted {
			row = append(row, rootStyle.Render(cell("yes", cols[3].width)))
		} else {
			row = append(row, cell("", cols[3].width))
		}
		row = append(row, truncate(rec.Describe(), valueWidth))
		b.WriteString(strings.TrimRight(strings.Join(row, " "), " "))
		b.WriteString("\n")
	}

	if len(s.Frames) > 0 {
		b.WriteString("\n")
		b.WriteString(headStyle.Render("FRAMES"))
		b.WriteString("\n")
		for i := len(s.Frames) - 1; i >= 0; i-- {
			fr := s.Frames[i]
			ids := make([]string, len(fr.Roots))
			for j, id := range fr.Roots {
				ids[j] = "#" + strconv.FormatUint(id, 10)
			}
			line := fmt.Sprintf("  [%d] %s", fr.Depth, strings.Join(ids, " "))
			b.WriteString(truncate(strings.TrimRight(line, " "), width))
			b.WriteString("\n")
		}
	}
	if len(s.FreedIDs) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d objects swept so far", len(s.FreedIDs))))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func countKind(recs []Record, kind string) int {
	if kind == "" {
		return len(recs)
	}
	n := 0
	for _, rec := range recs {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

func cell(value string, width int) string {
	return runewidth.FillRight(truncate(value, width), width)
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
