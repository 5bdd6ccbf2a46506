package gsheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ChatBase/pkg/xerr"
)

const exportURLFormat = "https://docs.google.com/spreadsheets/d/%s/export?format=csv&gid=%s"

var sheetURLRe = regexp.MustCompile(`docs\.google\.com/spreadsheets/d/([a-zA-Z0-9-_]+)`)
var gidRe = regexp.MustCompile(`[?#&]gid=(\d+)`)

// ParseSheetURL 从分享链接里提取表格 ID 和工作表 gid（缺省 0）
func ParseSheetURL(rawURL string) (sheetID, gid string, err error) {
	m := sheetURLRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", fmt.Errorf("无法识别的表格链接 %q: %w", rawURL, xerr.ErrSheetURLInvalid)
	}
	gid = "0"
	if gm := gidRe.FindStringSubmatch(rawURL); gm != nil {
		gid = gm[1]
	}
	return m[1], gid, nil
}

// Fetcher 通过公开 CSV 导出端点拉取表格内容。
// 只支持"知道链接即可查看"的表格，私有表格会拿到登录页而不是 CSV。
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 跳到 accounts.google.com 说明表格未公开
			if strings.Contains(req.URL.Host, "accounts.google.com") {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}}
}

// FetchRows 拉取并解析 CSV，返回含表头的全部行
func (f *Fetcher) FetchRows(ctx context.Context, sheetID, gid string) ([][]string, error) {
	url := fmt.Sprintf(exportURLFormat, sheetID, gid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("拉取表格失败: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, fmt.Errorf("表格 %s 需要登录: %w", sheetID, xerr.ErrSheetNotPublic)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("表格 %s 不存在: %w", sheetID, xerr.ErrSheetURLInvalid)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("表格导出返回 %d: %w", resp.StatusCode, xerr.ErrSheetNotPublic)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return nil, fmt.Errorf("表格 %s 返回了网页而非 CSV: %w", sheetID, xerr.ErrSheetNotPublic)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("读取表格内容失败: %w", err)
	}

	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("表格 CSV 解析失败: %w", xerr.ErrCorruptFile)
	}
	return rows, nil
}
