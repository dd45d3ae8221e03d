package restclient

import (
	"context"
	"strings"
	"time"
)

// maxChartPages caps the ka10080 pagination loop, mirroring
// fn_ka10080_get_minute_chart's MAX_PAGES = 2.
const maxChartPages = 2

// GetMinuteChart issues TR ka10080, following cont-yn/next-key pagination
// for up to maxChartPages pages, pausing 300ms between pages the way the
// reference implementation does to stay under the broker's burst limit.
func (c *Client) GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error) {
	var all []map[string]any
	contYn := "N"
	nextKey := ""

	for page := 0; page < maxChartPages; page++ {
		if page > 0 {
			time.Sleep(300 * time.Millisecond)
		}

		params := map[string]any{
			"stk_cd":        stockCode,
			"tic_scope":     tick,
			"upd_stkpc_tp": "1",
			"date_type":    "1",
		}
		data, headers, err := c.Call(ctx, "ka10080", params, LowPriority(), Paginate(contYn, nextKey))
		if err != nil {
			return all, err
		}
		if data == nil {
			break
		}

		rows := chartRows(data)
		if len(rows) == 0 {
			break
		}
		all = append(all, rows...)

		nextKey = strings.TrimSpace(headers.Get("next-key"))
		contYn = strings.TrimSpace(headers.Get("cont-yn"))
		if nextKey == "" || contYn != "Y" {
			break
		}
	}

	return all, nil
}

func chartRows(data map[string]any) []map[string]any {
	raw := FirstNonEmpty(data, "stk_min_pole_chart_qry", "output2")
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
