package restclient

import (
	"context"
	"strconv"
	"time"
)

// orderParams builds the shared body for buy/sell/cancel TRs. price == 0
// means a market order (trde_tp "03"); any other value is a limit order
// ("00"), matching fn_kt10000_buy_order/fn_kt10001_sell_order.
func (c *Client) orderParams(stockCode string, qty int64, price int64) map[string]any {
	tradeType := "00"
	if price == 0 {
		tradeType = "03"
	}
	return map[string]any{
		"acnt_no":       c.accountNo,
		"dmst_stex_tp": "KRX",
		"stk_cd":       stockCode,
		"ord_qty":      strconv.FormatInt(qty, 10),
		"ord_uv":       strconv.FormatInt(price, 10),
		"trde_tp":      tradeType,
		"cond_uv":      "",
	}
}

// BuyOrder issues TR kt10000 and returns the broker order number.
func (c *Client) BuyOrder(ctx context.Context, stockCode string, qty, price int64) (string, error) {
	if c.mockTrade {
		time.Sleep(100 * time.Millisecond)
	}
	data, _, err := c.Call(ctx, "kt10000", c.orderParams(stockCode, qty, price))
	if err != nil {
		return "", err
	}
	return orderNo(data), nil
}

// SellOrder issues TR kt10001.
func (c *Client) SellOrder(ctx context.Context, stockCode string, qty, price int64) (string, error) {
	if c.mockTrade {
		time.Sleep(100 * time.Millisecond)
	}
	data, _, err := c.Call(ctx, "kt10001", c.orderParams(stockCode, qty, price))
	if err != nil {
		return "", err
	}
	return orderNo(data), nil
}

// CancelOrder issues TR kt10003 against a previously-placed order.
func (c *Client) CancelOrder(ctx context.Context, stockCode string, qty int64, origOrderNo string, isBuy bool) (string, error) {
	if c.mockTrade {
		time.Sleep(100 * time.Millisecond)
	}
	tradeType := "04"
	if isBuy {
		tradeType = "03"
	}
	params := map[string]any{
		"acnt_no":      c.accountNo,
		"dmst_stex_tp": "KRX",
		"stk_cd":       stockCode,
		"ord_qty":      strconv.FormatInt(qty, 10),
		"ord_uv":       "0",
		"trde_tp":      tradeType,
		"orgn_ord_no":  origOrderNo,
		"cond_uv":      "",
	}
	data, _, err := c.Call(ctx, "kt10003", params)
	if err != nil {
		return "", err
	}
	return orderNo(data), nil
}

func orderNo(data map[string]any) string {
	if data == nil {
		return ""
	}
	if v, ok := data["ord_no"]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
