package export

import (
	"encoding/csv"
	"io"
)

// utf8BOM lets spreadsheet tools detect the encoding of Korean labels.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func renderCSV(w io.Writer, table Table) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Headers); err != nil {
		return err
	}
	if err := writer.WriteAll(table.Rows); err != nil {
		return err
	}
	return writer.Error()
}
