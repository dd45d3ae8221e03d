package notify

import "fmt"

// DailyReport is the summary the scheduler hands to FormatDailyReport once
// per session, in the 15:40-15:49 window.
type DailyReport struct {
	Date       string
	BuyCount   int
	SellCount  int
	WinCount   int
	LossCount  int
	NetProfit  int64
}

// FormatDailyReport renders a DailyReport into the HTML message Telegram
// expects, in the same layout as test_telegram.py's mock report.
func FormatDailyReport(r DailyReport) string {
	winRate := 0.0
	if r.SellCount > 0 {
		winRate = float64(r.WinCount) / float64(r.SellCount) * 100
	}
	profitEmoji := "🔵"
	if r.NetProfit > 0 {
		profitEmoji = "🔴"
	}

	return fmt.Sprintf(
		"📅 <b>[Daily close report]</b> %s\n"+
			"━━━━━━━━━━━━━━\n"+
			"🛒 Buys: %d\n"+
			"👋 Sells: %d\n"+
			"🏆 Win: %d / ☠️ Loss: %d\n"+
			"📊 Win rate: %.1f%%\n"+
			"%s <b>Realized P&L: %d</b>\n"+
			"━━━━━━━━━━━━━━\n"+
			"Good work today.",
		r.Date, r.BuyCount, r.SellCount, r.WinCount, r.LossCount, winRate, profitEmoji, r.NetProfit,
	)
}
