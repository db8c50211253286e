package redis

// Key layout, per symbol:
//
//	candle:latest:<sym>   STRING  open candle JSON (TTL)
//	candle:<sym>          STREAM  closed candles
//	pub:candle:<sym>      PUBSUB  every candle update
//	signal:<sym>          STREAM  emitted signals
//	signal:latest:<sym>   STRING  newest signal JSON
//	pub:signal:<sym>      PUBSUB  every signal

func LatestCandleKey(symbol string) string { return "candle:latest:" + symbol }
func CandleStreamKey(symbol string) string { return "candle:" + symbol }
func CandleChannel(symbol string) string   { return "pub:candle:" + symbol }
func SignalStreamKey(symbol string) string { return "signal:" + symbol }
func LatestSignalKey(symbol string) string { return "signal:latest:" + symbol }
func SignalChannel(symbol string) string   { return "pub:signal:" + symbol }
