package wssim

import (
	"bytes"
	"math"
	"strconv"

	"github.com/tidwall/gjson"

	"signalengine/internal/model"
)

// Field aliases accepted on inbound tick messages, in lookup order.
var (
	priceKeys  = []string{"price", "p", "last", "close", "c"}
	tsKeys     = []string{"ts", "timestamp", "t"}
	symbolKeys = []string{"symbol", "s"}
)

// ParseMessage extracts ticks from one WebSocket payload.
//
// Accepted payloads: a JSON object, a JSON array of objects, or a bare
// number (JSON or plain text) that is taken as a price stamped now. For
// objects the first present alias wins and its price must be a JSON number.
// A missing or non-numeric ts falls back to now; a missing symbol falls back
// to fallbackSymbol. rejected counts entries that carried no usable price.
func ParseMessage(raw []byte, fallbackSymbol string, now int64) (ticks []model.Tick, rejected int) {
	if !gjson.ValidBytes(raw) {
		p, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
		if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, 1
		}
		return []model.Tick{{Symbol: fallbackSymbol, Price: p, TS: now}}, 0
	}

	root := gjson.ParseBytes(raw)
	switch {
	case root.Type == gjson.Number:
		return []model.Tick{{Symbol: fallbackSymbol, Price: root.Float(), TS: now}}, 0
	case root.IsArray():
		for _, m := range root.Array() {
			if t, ok := parseObject(m, fallbackSymbol, now); ok {
				ticks = append(ticks, t)
			} else {
				rejected++
			}
		}
		return ticks, rejected
	case root.IsObject():
		if t, ok := parseObject(root, fallbackSymbol, now); ok {
			return []model.Tick{t}, 0
		}
	}
	return nil, 1
}

func parseObject(m gjson.Result, fallbackSymbol string, now int64) (model.Tick, bool) {
	if !m.IsObject() {
		return model.Tick{}, false
	}
	price := first(m, priceKeys)
	if price.Type != gjson.Number {
		return model.Tick{}, false
	}

	t := model.Tick{Symbol: fallbackSymbol, Price: price.Float(), TS: now}
	if ts := first(m, tsKeys); ts.Type == gjson.Number {
		t.TS = ts.Int()
	}
	if s := first(m, symbolKeys); s.Type == gjson.String && s.Str != "" {
		t.Symbol = s.Str
	}
	return t, true
}

// first returns the first alias that is present and not null.
func first(m gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if r := m.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// subscribeMessages are sent on connect. Servers that need no subscription
// ignore them.
func subscribeMessages(symbol string) []map[string]any {
	return []map[string]any{
		{"action": "subscribe", "symbol": symbol},
		{"type": "subscribe", "channels": []map[string]any{{"name": "ticks", "symbols": []string{symbol}}}},
		{"event": "subscribe", "channel": "ticks", "symbol": symbol},
	}
}
