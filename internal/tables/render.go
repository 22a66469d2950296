package tables

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Faint(true)
)

// Render writes t filled with records as a bordered terminal table.
func Render(w io.Writer, t Table, records []fetch.Record, fetchedAt time.Time) error {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Headers()...).
		Rows(t.Rows(records)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	footer := fmt.Sprintf("%s rows", humanize.Comma(int64(len(records))))
	if !fetchedAt.IsZero() {
		footer += ", fetched " + humanize.Time(fetchedAt)
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n",
		titleStyle.Render(t.Title),
		tbl.String(),
		footerStyle.Render(footer),
	)
	return err
}
