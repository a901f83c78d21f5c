package exchange

import (
	"strings"
	"time"
)

// PositionRecord 为交易所返回的单条原始持仓记录。
// 对冲模式下同一交易对可能同时存在 LONG 与 SHORT 两条记录。
type PositionRecord struct {
	Symbol       string
	PositionSide string
	Contracts    float64
}

// MarketInfo 描述交易对的下单约束。
type MarketInfo struct {
	Symbol  string
	MinLot  float64
	LotStep float64
}

// OrderRecord 为下单成功后的回执摘要。
type OrderRecord struct {
	ID        string
	Symbol    string
	Side      string
	Amount    float64
	Status    string
	Timestamp time.Time
}

// Candle 代表单根日线。
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// FormatSymbol 将交易对规整为 Binance 合约格式：
// 去掉 ccxt 的 :USDT 结算后缀与 / 分隔符，保证只有一个 USDT 后缀。
func FormatSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "/", "")
	s = strings.TrimSuffix(s, "USDT")
	return s + "USDT"
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
