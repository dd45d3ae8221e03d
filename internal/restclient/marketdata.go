package restclient

import "context"

// StockInfo mirrors fn_ka10001_get_stock_info's resolved field set.
type StockInfo struct {
	Code          string
	Name          string
	CurrentPrice  int64
	BasePrice     int64
	OpenPrice     int64
	ExpectedPrice int64
}

// GetStockInfo issues TR ka10001.
func (c *Client) GetStockInfo(ctx context.Context, stockCode string) (*StockInfo, error) {
	data, _, err := c.Call(ctx, "ka10001", map[string]any{"stk_cd": stockCode})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &StockInfo{
		Code:          stringField(data["stk_cd"]),
		Name:          stringField(data["stk_nm"]),
		CurrentPrice:  SafeInt(data["cur_prc"]),
		BasePrice:     SafeInt(FirstNonEmpty(data, "std_prc", "bf_cls_prc")),
		OpenPrice:     SafeInt(FirstNonEmpty(data, "open_pric", "open_prc")),
		ExpectedPrice: SafeInt(FirstNonEmpty(data, "exp_cntr_pric", "exp_cntr_prc")),
	}, nil
}

// OrderBookTotals mirrors fn_ka10004_get_hoga's sell/buy aggregate totals,
// used by the admission pipeline's order-book-ratio filter.
type OrderBookTotals struct {
	SellTotal int64
	BuyTotal  int64
}

var hogaSellKeys = []string{"tot_sel_req", "tot_sel_pr_ord_remn_qty", "tot_sell_remn", "total_sell_remn_qty"}
var hogaBuyKeys = []string{"tot_buy_req", "tot_buy_pr_ord_remn_qty", "tot_buy_remn", "total_buy_remn_qty"}

// GetOrderBook issues TR ka10004.
func (c *Client) GetOrderBook(ctx context.Context, stockCode string) (*OrderBookTotals, error) {
	data, _, err := c.Call(ctx, "ka10004", map[string]any{"stk_cd": stockCode})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &OrderBookTotals{
		SellTotal: firstNonZeroInt(data, hogaSellKeys),
		BuyTotal:  firstNonZeroInt(data, hogaBuyKeys),
	}, nil
}

func firstNonZeroInt(data map[string]any, keys []string) int64 {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil && v != "" {
			if n := SafeInt(v); n != 0 {
				return n
			}
		}
	}
	return 0
}

func stringField(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
