package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"ChatBase/pkg/xerr"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVWithHeaders(t *testing.T) {
	data := []byte("name,price\nWidget,10\nGadget,20\n")
	blocks, err := Parse(data, TypeCSV)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("期望 3 个块（表头 + 2 行），得到 %d", len(blocks))
	}
	if blocks[0] != "Columns: name | price" {
		t.Fatalf("表头块不对: %q", blocks[0])
	}
	if blocks[1] != "[Row 2] name: Widget | price: 10" {
		t.Fatalf("数据行不对: %q", blocks[1])
	}
}

func TestParseCSVSkipsEmptyCells(t *testing.T) {
	data := []byte("name,price\nWidget,\n")
	blocks, err := Parse(data, TypeCSV)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if strings.Contains(blocks[1], "price") {
		t.Fatalf("空单元格不应出现在行文本里: %q", blocks[1])
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetSheetRow("Sheet1", "A1", &[]interface{}{"name", "price"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Widget", 10})
	_ = f.SetSheetRow("Sheet1", "A3", &[]interface{}{"Gadget", 20})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("构造 xlsx 失败: %v", err)
	}

	blocks, err := Parse(buf.Bytes(), TypeXLSX)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	want := []string{
		"[Sheet: Sheet1]",
		"Columns: name | price",
		"[Row 2] name: Widget | price: 10",
		"[Row 3] name: Gadget | price: 20",
	}
	if len(blocks) != len(want) {
		t.Fatalf("期望 %d 个块，得到 %d: %v", len(want), len(blocks), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("块 %d 不对: %q, 期望 %q", i, blocks[i], want[i])
		}
	}
}

func TestParseDOCX(t *testing.T) {
	const documentXML = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello world</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>c1</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>c2</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("构造 docx 失败: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("写入 document.xml 失败: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("关闭 zip 失败: %v", err)
	}

	blocks, err := Parse(buf.Bytes(), TypeDOCX)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	want := []string{"Hello world", "Second paragraph", "c1 | c2"}
	if len(blocks) != len(want) {
		t.Fatalf("期望 %d 个块，得到 %d: %v", len(want), len(blocks), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("块 %d 不对: %q, 期望 %q", i, blocks[i], want[i])
		}
	}
}

func TestParseTXT(t *testing.T) {
	blocks, err := Parse([]byte("hello\nworld"), TypeTXT)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(blocks) != 1 || blocks[0] != "hello\nworld" {
		t.Fatalf("TXT 应整体作为一个块: %v", blocks)
	}
}

func TestParseUnsupportedType(t *testing.T) {
	_, err := Parse([]byte("x"), "exe")
	if !errors.Is(err, xerr.ErrUnsupportedFormat) {
		t.Fatalf("期望 ErrUnsupportedFormat，得到 %v", err)
	}
}

func TestParseCorruptPDF(t *testing.T) {
	_, err := Parse([]byte("not a pdf at all"), TypePDF)
	if !errors.Is(err, xerr.ErrCorruptFile) {
		t.Fatalf("缺少 PDF 魔数应判为损坏文件，得到 %v", err)
	}
}

func TestParseCorruptDOCX(t *testing.T) {
	_, err := Parse([]byte("plain text pretending"), TypeDOCX)
	if !errors.Is(err, xerr.ErrCorruptFile) {
		t.Fatalf("非 zip 的 docx 应判为损坏文件，得到 %v", err)
	}
}

func TestFileTypeFromName(t *testing.T) {
	cases := map[string]string{
		"report.PDF":    "pdf",
		"data.xlsx":     "xlsx",
		"a.b.csv":       "csv",
		"noextension":   "",
		"trailing.dot.": "",
	}
	for in, want := range cases {
		if got := FileTypeFromName(in); got != want {
			t.Fatalf("FileTypeFromName(%q) = %q, 期望 %q", in, got, want)
		}
	}
}

func TestIsSupportedType(t *testing.T) {
	for _, ft := range []string{TypePDF, TypeDOCX, TypeXLSX, TypeCSV, TypeTXT, " PDF "} {
		if !IsSupportedType(ft) {
			t.Fatalf("%q 应被支持", ft)
		}
	}
	if IsSupportedType("exe") {
		t.Fatalf("exe 不应被支持")
	}
}
