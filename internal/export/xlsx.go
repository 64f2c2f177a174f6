// Package export renders stored export rows as XLSX workbooks.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// SheetName is the worksheet that holds the rows.
const SheetName = "Export"

// ContentType is the MIME type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type column struct {
	header  string
	value   func(*model.ExportRow) model.Text
	numeric bool
	width   float64
}

// Headers use the remote export keys so sheets line up with the raw payload.
var columns = []column{
	{"codigo", func(r *model.ExportRow) model.Text { return r.Code }, false, 14},
	{"descricao", func(r *model.ExportRow) model.Text { return r.Description }, false, 48},
	{"valor", func(r *model.ExportRow) model.Text { return r.Value }, true, 16},
	{"valorAnterior", func(r *model.ExportRow) model.Text { return r.PreviousValue }, true, 16},
	{"empresa", func(r *model.ExportRow) model.Text { return r.Company }, false, 28},
	{"cnpj", func(r *model.ExportRow) model.Text { return r.TaxID }, false, 18},
	{"pagina", func(r *model.ExportRow) model.Text { return r.Page }, false, 8},
	{"secao", func(r *model.ExportRow) model.Text { return r.Section }, false, 20},
	{"subsecao", func(r *model.ExportRow) model.Text { return r.Subsection }, false, 20},
	{"tabela", func(r *model.ExportRow) model.Text { return r.Table }, false, 12},
	{"linha", func(r *model.ExportRow) model.Text { return r.Line }, false, 8},
	{"coluna", func(r *model.ExportRow) model.Text { return r.Column }, false, 8},
	{"x", func(r *model.ExportRow) model.Text { return r.X }, false, 8},
	{"y", func(r *model.ExportRow) model.Text { return r.Y }, false, 8},
	{"largura", func(r *model.ExportRow) model.Text { return r.Width }, false, 8},
	{"altura", func(r *model.ExportRow) model.Text { return r.Height }, false, 8},
	{"periodo", func(r *model.ExportRow) model.Text { return r.Period }, false, 12},
	{"dataReferencia", func(r *model.ExportRow) model.Text { return r.ReferenceDate }, false, 14},
	{"ano", func(r *model.ExportRow) model.Text { return r.Year }, false, 8},
	{"trimestre", func(r *model.ExportRow) model.Text { return r.Quarter }, false, 10},
	{"moeda", func(r *model.ExportRow) model.Text { return r.Currency }, false, 8},
	{"escala", func(r *model.ExportRow) model.Text { return r.Scale }, false, 10},
	{"unidade", func(r *model.ExportRow) model.Text { return r.Unit }, false, 10},
	{"tipo", func(r *model.ExportRow) model.Text { return r.Type }, false, 12},
	{"nivel", func(r *model.ExportRow) model.Text { return r.Level }, false, 8},
	{"contaPai", func(r *model.ExportRow) model.Text { return r.ParentAccount }, false, 14},
	{"rotulo", func(r *model.ExportRow) model.Text { return r.Label }, false, 28},
	{"confianca", func(r *model.ExportRow) model.Text { return r.Confidence }, true, 10},
	{"arquivo", func(r *model.ExportRow) model.Text { return r.File }, false, 28},
	{"observacao", func(r *model.ExportRow) model.Text { return r.Note }, false, 40},
}

// Headers returns the column headers in sheet order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

// WriteXLSX returns a workbook with one header row and one row per export
// row. Numeric columns are written as numbers when they parse.
func WriteXLSX(documentID string, rows []model.ExportRow, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, c := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, c.header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(SheetName, name, name, c.width)
	}

	for r := range rows {
		for i, c := range columns {
			v := c.value(&rows[r])
			if v == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			var val any = v.String()
			if c.numeric {
				if n, ok := v.Float(); ok {
					val = n
				}
			}
			if err := f.SetCellValue(SheetName, cell, val); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.ok",
		"document_id", documentID,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
