package export

import (
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// pdfColumns picks the table columns that fit a portrait page. Sizes sum to
// the 12-column grid.
var pdfColumns = []struct {
	index int
	size  int
}{
	{0, 2},  // factory
	{2, 2},  // unit
	{5, 1},  // unit status
	{7, 3},  // title
	{8, 1},  // type
	{10, 1}, // state
	{12, 2}, // created at
}

func renderPDF(w io.Writer, table Table, generatedAt string) error {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, table.Title, props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	m.AddRow(8,
		text.NewCol(12, "Generated: "+generatedAt, props.Text{Size: 8}),
	)

	m.AddRow(8, pdfRow(table.Headers, props.Text{Style: fontstyle.Bold, Size: 8})...)
	for _, row := range table.Rows {
		m.AddRow(7, pdfRow(row, props.Text{Size: 7})...)
	}

	doc, err := m.Generate()
	if err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	_, err = w.Write(doc.GetBytes())
	return err
}

func pdfRow(cells []string, style props.Text) []core.Col {
	cols := make([]core.Col, 0, len(pdfColumns))
	for _, c := range pdfColumns {
		value := ""
		if c.index < len(cells) {
			value = cells[c.index]
		}
		cols = append(cols, text.NewCol(c.size, value, style))
	}
	return cols
}
