package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"dealerscan/models"
)

const maxCellWidth = 40

// Table renders rows as an aligned markdown table. The first row is the
// header. Widths are display widths, so CJK and emoji titles line up.
func Table(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	colCount := 0
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	cells := make([][]string, len(rows))
	widths := make([]int, colCount)
	for i, row := range rows {
		cells[i] = make([]string, colCount)
		for j := 0; j < colCount; j++ {
			if j < len(row) {
				cells[i][j] = runewidth.Truncate(row[j], maxCellWidth, "…")
			}
			if w := runewidth.StringWidth(cells[i][j]); w > widths[j] {
				widths[j] = w
			}
		}
	}
	for j := range widths {
		if widths[j] < 3 {
			widths[j] = 3
		}
	}

	lines := make([]string, 0, len(rows)+1)
	for i, row := range cells {
		lines = append(lines, renderRow(row, widths))
		if i == 0 {
			sep := make([]string, colCount)
			for j := range sep {
				sep[j] = strings.Repeat("-", widths[j])
			}
			lines = append(lines, renderRow(sep, widths))
		}
	}
	return lines
}

func renderRow(row []string, widths []int) string {
	var sb strings.Builder
	sb.WriteString("|")
	for j, content := range row {
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(content, widths[j]))
		sb.WriteString(" |")
	}
	return sb.String()
}

// WriteCycle prints the tally of one cycle followed by the listings it
// touched.
func WriteCycle(w io.Writer, res *models.ScrapeResult, listings []models.Listing) error {
	tally := [][]string{
		{"Found", "New", "Updated", "Sold", "Unchanged", "Published", "Publish failed", "Errors"},
		{
			strconv.Itoa(res.TotalFound), strconv.Itoa(res.New), strconv.Itoa(res.Updated),
			strconv.Itoa(res.Sold), strconv.Itoa(res.Unchanged), strconv.Itoa(res.Published),
			strconv.Itoa(res.PublishFailed), strconv.Itoa(len(res.Errors)),
		},
	}
	if err := writeLines(w, Table(tally)); err != nil {
		return err
	}

	if len(listings) > 0 {
		rows := [][]string{{"Status", "Title", "Price", "Mileage", "Marketplace"}}
		for _, l := range listings {
			market := ""
			if l.IsPublished() {
				market = l.Publish.ExternalID
			}
			rows = append(rows, []string{
				string(l.Status), l.Title, formatPrice(l.Price), strconv.Itoa(l.Mileage), market,
			})
		}
		fmt.Fprintln(w)
		if err := writeLines(w, Table(rows)); err != nil {
			return err
		}
	}

	for _, e := range res.Errors {
		if _, err := fmt.Fprintf(w, "error: %s\n", e); err != nil {
			return err
		}
	}
	return nil
}

func formatPrice(dollars int) string {
	s := strconv.Itoa(dollars)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return "$" + string(out)
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
