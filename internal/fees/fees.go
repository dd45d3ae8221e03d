// Package fees is the single source of truth for the broker's buy/sell
// commission and transaction-tax rates and the net-of-fees P&L formula.
// §9 design note (ii) of the engine's specification calls out that the
// original bot computed fees inconsistently between its logging path (a
// flat 0.23% estimate) and its trigger path (the full table); every exit
// decision in this engine routes through Rate and NetProfit so there is
// only one computation to get right.
package fees

// Rate holds the buy-fee, sell-fee, and tax percentages (as fractions, e.g.
// 0.0035 for 0.35%) that apply to every fill.
type Rate struct {
	BuyFee  float64
	SellFee float64
	Tax     float64
}

// Paper is the simulated commission/tax schedule used in mock-trade mode.
var Paper = Rate{BuyFee: 0.0035, SellFee: 0.0035, Tax: 0.0015}

// Real is the live-account schedule.
var Real = Rate{BuyFee: 0.00015, SellFee: 0.00015, Tax: 0.0015}

// For picks the fee schedule for the given mock-trade flag.
func For(mockTrade bool) Rate {
	if mockTrade {
		return Paper
	}
	return Real
}

// NetProfit computes the net-of-fees profit amount and rate for a position
// bought at buyPrice for qty shares and marked (or sellable) at price,
// using the full fee/tax table: fees = pureBuy*buyFee + eval*(sellFee+tax).
func NetProfit(buyPrice float64, qty int64, price float64, r Rate) (netAmount float64, profitRate float64) {
	if qty <= 0 || buyPrice <= 0 {
		return 0, 0
	}
	pureBuy := buyPrice * float64(qty)
	eval := price * float64(qty)
	feeCost := pureBuy*r.BuyFee + eval*(r.SellFee+r.Tax)
	net := eval - pureBuy - feeCost
	rate := 100 * net / pureBuy
	return net, rate
}

// NetRateAtPrice is a convenience for the vision-gate stop-loss sizing
// computation (§4.5 step 7): the net-of-fees loss rate the position would
// realize if sold at hypothetical price.
func NetRateAtPrice(buyPrice float64, qty int64, price float64, mockTrade bool) float64 {
	_, rate := NetProfit(buyPrice, qty, price, For(mockTrade))
	return rate
}
