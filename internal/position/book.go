package position

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Bumblebee0427/Crypto/internal/exchange"
)

// Side 表示持仓方向。对冲模式下同一交易对的两个方向相互独立。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Exposure 记录单个交易对两个方向的持仓量，数值恒为非负。
type Exposure struct {
	Long  float64
	Short float64
}

// Book 为按交易对归账后的当前持仓簿。
type Book map[string]Exposure

// TargetBook 为目标持仓簿：正数为净多头，负数为净空头，
// 零或缺失表示平仓。
type TargetBook map[string]float64

// ErrMalformedRecord 表示持仓记录缺少可解析的方向标签。
type ErrMalformedRecord struct {
	Symbol string
	Tag    string
}

func (e *ErrMalformedRecord) Error() string {
	return fmt.Sprintf("position: 持仓记录 %s 的方向标签 %q 无法解析", e.Symbol, e.Tag)
}

// BuildBook 将原始持仓记录归账为按方向分列的持仓簿。
// 零持仓记录被丢弃；同一交易对允许 LONG 与 SHORT 同时非零。
func BuildBook(records []exchange.PositionRecord) (Book, error) {
	book := make(Book, len(records))

	for _, record := range records {
		if record.Contracts == 0 {
			continue
		}

		exposure := book[record.Symbol]
		switch Side(strings.ToUpper(strings.TrimSpace(record.PositionSide))) {
		case SideLong:
			exposure.Long = record.Contracts
		case SideShort:
			exposure.Short = record.Contracts
		default:
			return nil, &ErrMalformedRecord{Symbol: record.Symbol, Tag: record.PositionSide}
		}
		book[record.Symbol] = exposure
	}

	return book, nil
}

// Symbols 返回持仓簿中的交易对，按字典序排序。
func (b Book) Symbols() []string {
	symbols := make([]string, 0, len(b))
	for symbol := range b {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Symbols 返回目标簿中的交易对，按字典序排序。
func (t TargetBook) Symbols() []string {
	symbols := make([]string, 0, len(t))
	for symbol := range t {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
