package parser

import (
	"bytes"
	"fmt"
	"strings"

	"ChatBase/pkg/xerr"

	pdf "github.com/ledongthuc/pdf"
)

// parsePDF 逐页提取文本，每页一个块，空页跳过
func parsePDF(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %v: %w", err, xerr.ErrCorruptFile)
	}

	var blocks []string
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// 单页损坏不致命，跳过继续
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", i, text))
	}
	return blocks, nil
}
