package parser

import (
	"bytes"
	"fmt"
	"strings"

	"ChatBase/pkg/xerr"
)

// 支持的文件类型
const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
	TypeXLSX = "xlsx"
	TypeCSV  = "csv"
	TypeTXT  = "txt"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// Parse 把文件字节流解析为有序文本块。纯函数，不落盘。
//
// PDF 每页一个块（带 [Page N] 前缀），DOCX 每段/表格行一个块，
// XLSX/CSV 每行一个块（首行作为列头拼到每个数据行上），TXT 整体一个块。
func Parse(data []byte, fileType string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case TypePDF:
		if !bytes.HasPrefix(data, pdfMagic) {
			return nil, fmt.Errorf("parse pdf: missing magic: %w", xerr.ErrCorruptFile)
		}
		return parsePDF(data)
	case TypeDOCX:
		if !bytes.HasPrefix(data, zipMagic) {
			return nil, fmt.Errorf("parse docx: not a zip archive: %w", xerr.ErrCorruptFile)
		}
		return parseDOCX(data)
	case TypeXLSX:
		if !bytes.HasPrefix(data, zipMagic) {
			return nil, fmt.Errorf("parse xlsx: not a zip archive: %w", xerr.ErrCorruptFile)
		}
		return parseXLSX(data)
	case TypeCSV:
		return parseCSV(data)
	case TypeTXT:
		return []string{string(data)}, nil
	default:
		return nil, fmt.Errorf("parse: file type %q: %w", fileType, xerr.ErrUnsupportedFormat)
	}
}

// FileTypeFromName 从文件名推断类型，不认识的后缀原样返回小写后缀
func FileTypeFromName(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

func IsSupportedType(fileType string) bool {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case TypePDF, TypeDOCX, TypeXLSX, TypeCSV, TypeTXT:
		return true
	}
	return false
}

// formatRowWithHeaders 生成 "[Row N] 列名: 值 | 列名: 值"，空单元格跳过，整行为空返回 ""
func formatRowWithHeaders(headers, values []string, rowNum int) string {
	var pairs []string
	for i, h := range headers {
		if i >= len(values) {
			break
		}
		v := strings.TrimSpace(values[i])
		if v == "" {
			continue
		}
		pairs = append(pairs, h+": "+v)
	}
	if len(pairs) == 0 {
		return ""
	}
	return fmt.Sprintf("[Row %d] ", rowNum) + strings.Join(pairs, " | ")
}

// normalizeHeaders 首行作为列头，空列头用 ColumnN 占位
func normalizeHeaders(row []string) []string {
	headers := make([]string, len(row))
	for i, v := range row {
		v = strings.TrimSpace(v)
		if v == "" {
			v = fmt.Sprintf("Column%d", i+1)
		}
		headers[i] = v
	}
	return headers
}

func headerLine(headers []string) string {
	return "Columns: " + strings.Join(headers, " | ")
}
