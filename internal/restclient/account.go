package restclient

import "context"

// AccountSummary mirrors fn_kt00018_get_account_balance's result shape.
type AccountSummary struct {
	TotalPurchaseAmount int64
	TotalEvalAmount      int64
	TotalEvalProfit      int64
	TotalProfitRate      float64
	EstimatedAssets      int64
	Holdings             []any
}

// GetAccountBalance issues TR kt00018.
func (c *Client) GetAccountBalance(ctx context.Context) (*AccountSummary, error) {
	params := map[string]any{"acnt_no": c.accountNo, "qry_tp": "1", "dmst_stex_tp": "KRX"}
	data, _, err := c.Call(ctx, "kt00018", params)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &AccountSummary{
		TotalPurchaseAmount: SafeInt(data["tot_pur_amt"]),
		TotalEvalAmount:      SafeInt(data["tot_evlt_amt"]),
		TotalEvalProfit:      SafeInt(data["tot_evlt_pl"]),
		TotalProfitRate:      SafeFloat(data["tot_prft_rt"]),
		EstimatedAssets:      SafeInt(data["prsm_dpst_aset_amt"]),
		Holdings:             toSlice(data["acnt_evlt_remn_indv_tot"]),
	}, nil
}

// GetDeposit issues TR kt00001 and resolves the orderable-cash field across
// the broker's renamed variants.
func (c *Client) GetDeposit(ctx context.Context) (int64, error) {
	params := map[string]any{"acnt_no": c.accountNo, "qry_tp": "2"}
	data, _, err := c.Call(ctx, "kt00001", params)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	v := FirstNonEmpty(data, "mny_ord_able_amt", "ord_psbl_amt", "entr")
	return SafeInt(v), nil
}

// DailyProfit issues TR ka10074 for today's realized P&L.
func (c *Client) DailyProfit(ctx context.Context, dateYYYYMMDD string) (int64, error) {
	params := map[string]any{"strt_dt": dateYYYYMMDD, "end_dt": dateYYYYMMDD, "stk_cd": ""}
	data, _, err := c.Call(ctx, "ka10074", params)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if profit, ok := data["rlzt_pl"]; ok && profit != nil {
		return SafeInt(profit), nil
	}
	total := int64(0)
	for _, row := range toSlice(data["dt_rlzt_pl"]) {
		if m, ok := row.(map[string]any); ok {
			total += SafeInt(m["rlzt_pl"])
		}
	}
	return total, nil
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
