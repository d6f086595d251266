package market

// Kline represents a single candlestick.
type Kline struct {
	Symbol    string
	OpenTime  int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64 // ms
}

// MiniTicker is the rolling 24h summary pushed by the <symbol>@miniTicker stream.
type MiniTicker struct {
	Symbol      string
	Close       float64
	Open        float64
	High        float64
	Low         float64
	Volume      float64
	QuoteVolume float64
	EventTime   int64 // ms
}
