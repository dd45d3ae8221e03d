package mdg

import (
	"strconv"
	"strings"

	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
)

// handleConditionList processes a CNSRLST frame: the scanner id->name
// directory, pushed once after login.
func (g *Gateway) handleConditionList(frame map[string]any) {
	data, ok := frame["data"].([]any)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, item := range data {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		id, _ := pair[0].(string)
		name, _ := pair[1].(string)
		if id != "" {
			g.conditionName[id] = name
		}
	}
}

// handleConditionSnapshot processes a CNSRREQ frame: the initial member
// list of a scanner, emitted as a burst of ConditionInsert events the way
// a live hit would be.
func (g *Gateway) handleConditionSnapshot(frame map[string]any) {
	seq, _ := frame["seq"].(string)
	raw, ok := frame["data"].([]any)
	if !ok {
		return
	}
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code := firstString(m, "jmcode", "code", "9001")
		if code == "" {
			continue
		}
		g.emitCondition(models.ConditionEvent{
			Code:      code,
			Type:      models.ConditionInsert,
			ScannerID: normalizeCondID(seq),
		})
	}
}

// handleReal processes a REAL frame: a batch of real-time field updates,
// demultiplexed by data type into condition events, per-symbol ticks, and
// account/fill events.
func (g *Gateway) handleReal(frame map[string]any) {
	list, ok := frame["data"].([]any)
	if !ok {
		return
	}
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		itemCode, _ := m["item"].(string)
		dataType, _ := m["type"].(string)
		rawValues, _ := m["values"].(map[string]any)
		values := stringifyValues(rawValues)

		switch {
		case (dataType == "00" || dataType == "04") && itemCode == "":
			itemKey := "ACCOUNT_04"
			if dataType == "00" {
				itemKey = "ACCOUNT_00"
			}
			g.setLatest(itemKey, dataType, values)
			g.emitAccount(AccountEvent{Type: dataType, Values: values})

		case dataType == "02":
			g.handleConditionHit(itemCode, values)

		default:
			g.emitTick(TickUpdate{Code: itemCode, Type: dataType, Values: values})
		}

		if itemCode != "" {
			g.setLatest(itemCode, dataType, values)
		}

		if dataType == "00" && itemCode != "" {
			g.emitTick(TickUpdate{Code: itemCode, Type: dataType, Values: values})
		}
	}
}

// handleConditionHit turns a "02" real-time entry into a ConditionEvent.
// Field 9001 carries the symbol code prefixed with A/J, 843 the
// insert/delete type, 9007 the scanner id, 10 the signed current price.
func (g *Gateway) handleConditionHit(itemCode string, values map[string]string) {
	code := strings.TrimLeft(values["9001"], "AJ")
	eventType := models.ConditionEventType(values["843"])
	scannerID := values["9007"]
	if scannerID == "" {
		scannerID = itemCode
	}

	price := 0.0
	if raw, ok := values["10"]; ok && raw != "" {
		cleaned := strings.NewReplacer("+", "", "-", "").Replace(raw)
		if n, err := strconv.ParseFloat(cleaned, 64); err == nil {
			price = n
		}
	}

	g.emitCondition(models.ConditionEvent{
		Code:      code,
		Type:      eventType,
		ScannerID: normalizeCondID(scannerID),
		Price:     price,
	})
}

func (g *Gateway) emitCondition(ev models.ConditionEvent) {
	select {
	case g.conditionEvents <- ev:
	default:
		logger.Warnf("mdg: condition event queue full, dropping %s/%s", ev.Code, ev.ScannerID)
	}
}

func (g *Gateway) emitTick(t TickUpdate) {
	select {
	case g.ticks <- t:
	default:
		logger.Warnf("mdg: tick queue full, dropping %s/%s", t.Code, t.Type)
	}
}

func (g *Gateway) emitAccount(a AccountEvent) {
	select {
	case g.accountEvents <- a:
	default:
		logger.Warnf("mdg: account event queue full")
	}
}

// normalizeCondID strips a trailing ".0"-style float artifact so "0" and
// "0.0" compare equal, matching the Python str(int(x)) normalization.
func normalizeCondID(id string) string {
	if n, err := strconv.Atoi(id); err == nil {
		return strconv.Itoa(n)
	}
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return id
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringifyValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}
