package vision

// prompts maps a condition (scanner) id to its strategy-specific chart
// prompt, carried over from ai_analyst.py's per-strategy prompt dictionary.
var prompts = map[string]string{
	"0": "Breakout strategy: does the 5-period MA sit below the 20-period MA in a converging range, is the 20-period MA's slope flat (<=0.2), has the 5-period MA just turned up, and is the current candle bullish with its midpoint above the 5-period MA on rising volume?",
	"1": "Pullback strategy: is price finding support near the 20-period MA with falling volume through the pullback, and has a bullish reversal candle appeared at the support line?",
	"2": "Overnight strategy: is price closing near the day's high, holding support into the close, and does the pattern suggest a gap-up open tomorrow?",
}

const defaultPrompt = "Day-trading setup: is there a clear uptrend, MA support, and a bullish candle on rising volume?"

const responseFormatSuffix = `
If buying, set stop_loss_price to the most recent swing low or key support level on the chart. If not buying, set stop_loss_price to 0.
Respond with JSON only: {"decision": "YES" or "NO", "reason": "one sentence", "stop_loss_price": <number>}`

// PromptFor returns the full prompt for a strategy's condition id, falling
// back to a generic day-trading prompt for unknown ids.
func PromptFor(conditionID string) string {
	base, ok := prompts[conditionID]
	if !ok {
		base = defaultPrompt
	}
	return base + responseFormatSuffix
}
