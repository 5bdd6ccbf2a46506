package gsheets

import (
	"errors"
	"testing"

	"ChatBase/pkg/xerr"
)

func TestParseSheetURL(t *testing.T) {
	cases := []struct {
		in      string
		sheetID string
		gid     string
	}{
		{
			in:      "https://docs.google.com/spreadsheets/d/1AbC_def-123/edit#gid=42",
			sheetID: "1AbC_def-123",
			gid:     "42",
		},
		{
			in:      "https://docs.google.com/spreadsheets/d/1AbC_def-123/edit",
			sheetID: "1AbC_def-123",
			gid:     "0",
		},
		{
			in:      "https://docs.google.com/spreadsheets/d/1AbC_def-123/view?gid=7",
			sheetID: "1AbC_def-123",
			gid:     "7",
		},
	}
	for _, c := range cases {
		id, gid, err := ParseSheetURL(c.in)
		if err != nil {
			t.Fatalf("ParseSheetURL(%q) 失败: %v", c.in, err)
		}
		if id != c.sheetID || gid != c.gid {
			t.Fatalf("ParseSheetURL(%q) = (%q, %q)，期望 (%q, %q)", c.in, id, gid, c.sheetID, c.gid)
		}
	}
}

func TestParseSheetURLInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"https://example.com/spreadsheet",
		"https://docs.google.com/document/d/abc/edit",
	} {
		if _, _, err := ParseSheetURL(in); !errors.Is(err, xerr.ErrSheetURLInvalid) {
			t.Fatalf("ParseSheetURL(%q) 应返回链接无效错误，得到 %v", in, err)
		}
	}
}
