package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"ChatBase/pkg/xerr"

	"github.com/xuri/excelize/v2"
)

// parseXLSX 每个工作表先输出 [Sheet: 名称] 和列头行，之后每个数据行一个块。
// 行号从表格的物理行号计（首个数据行是 Row 2）。
func parseXLSX(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsx open: %v: %w", err, xerr.ErrCorruptFile)
	}
	defer f.Close()

	var blocks []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("xlsx rows: %v: %w", err, xerr.ErrCorruptFile)
		}
		blocks = append(blocks, fmt.Sprintf("[Sheet: %s]", sheetName))

		var headers []string
		for rowNum, row := range rows {
			if rowNum == 0 {
				headers = normalizeHeaders(row)
				blocks = append(blocks, headerLine(headers))
				continue
			}
			var formatted string
			if len(headers) > 0 {
				formatted = formatRowWithHeaders(headers, row, rowNum+1)
			} else {
				formatted = joinNonEmpty(row)
			}
			if formatted != "" {
				blocks = append(blocks, formatted)
			}
		}
	}
	return blocks, nil
}

// parseCSV 同 xlsx 的行格式，但没有工作表前缀
func parseCSV(data []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var (
		blocks  []string
		headers []string
		rowNum  int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %v: %w", err, xerr.ErrCorruptFile)
		}
		rowNum++
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if rowNum == 1 {
			headers = normalizeHeaders(row)
			blocks = append(blocks, headerLine(headers))
			continue
		}
		var formatted string
		if len(headers) > 0 {
			formatted = formatRowWithHeaders(headers, row, rowNum)
		} else {
			formatted = joinNonEmpty(row)
		}
		if formatted != "" {
			blocks = append(blocks, formatted)
		}
	}
	return blocks, nil
}

func joinNonEmpty(row []string) string {
	var vals []string
	for _, v := range row {
		if v != "" {
			vals = append(vals, v)
		}
	}
	return strings.Join(vals, " | ")
}

// FormatSheetRows 把外部拉取的表格行（如 Google Sheets CSV 导出）格式化成文本块，
// 与 xlsx/csv 的行格式保持一致，保证检索语义相同。
func FormatSheetRows(rows [][]string) []string {
	var (
		blocks  []string
		headers []string
	)
	for rowNum, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if rowNum == 0 {
			headers = normalizeHeaders(row)
			blocks = append(blocks, headerLine(headers))
			continue
		}
		if formatted := formatRowWithHeaders(headers, row, rowNum+1); formatted != "" {
			blocks = append(blocks, formatted)
		}
	}
	return blocks
}
