package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"ChatBase/pkg/xerr"
)

// parseDOCX 从 word/document.xml 提取文本。
// 正文每段一个块；表格每行一个块，单元格用 " | " 连接。
func parseDOCX(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx zip: %v: %w", err, xerr.ErrCorruptFile)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("docx: word/document.xml missing: %w", xerr.ErrCorruptFile)
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("docx open: %v: %w", err, xerr.ErrCorruptFile)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, fmt.Errorf("docx read: %v: %w", err, xerr.ErrCorruptFile)
	}

	return walkDocumentXML(raw)
}

// walkDocumentXML 用流式解码器扫 OOXML。
// 状态：tableDepth>0 时段落文本归入当前单元格，否则归入当前段落。
func walkDocumentXML(raw []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var (
		blocks     []string
		para       strings.Builder
		cell       strings.Builder
		rowCells   []string
		tableDepth int
		inText     bool
	)

	flushPara := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text != "" {
			blocks = append(blocks, text)
		}
	}
	flushCell := func() {
		text := strings.TrimSpace(cell.String())
		cell.Reset()
		if text != "" {
			rowCells = append(rowCells, text)
		}
	}
	flushRow := func() {
		if len(rowCells) > 0 {
			blocks = append(blocks, strings.Join(rowCells, " | "))
		}
		rowCells = nil
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docx xml: %v: %w", err, xerr.ErrCorruptFile)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tableDepth == 0 {
					flushPara()
				}
			case "tc":
				if tableDepth > 0 {
					flushCell()
				}
			case "tr":
				if tableDepth > 0 {
					flushRow()
				}
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			}
		case xml.CharData:
			if !inText {
				continue
			}
			if tableDepth > 0 {
				cell.Write(t)
			} else {
				para.Write(t)
			}
		}
	}
	flushPara()

	return blocks, nil
}
