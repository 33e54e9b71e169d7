// Package binance feeds Binance spot order books into the liquidity store.
package binance

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
)

// frame is one combined-stream message. Replies to control requests carry
// an id and no stream.
type frame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
}

type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
	ID     int64    `json:"id"`
}

// Depth is a top-N book, from either the partial depth stream or the REST
// depth endpoint. Levels are [price, quantity] decimal strings.
type Depth struct {
	Symbol   string     `json:"-"`
	UpdateID int64      `json:"lastUpdateId"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// bookSide converts display-unit levels to raw base and quote amounts.
// Empty levels and levels that truncate to zero are skipped; a malformed
// number fails the whole side.
func bookSide(raw [][]string, baseDecimals, quoteDecimals uint8) ([]domain.BookLevel, error) {
	out := make([]domain.BookLevel, 0, len(raw))
	for i, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %w", i, lvl[0], err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("level %d quantity %q: %w", i, lvl[1], err)
		}
		if !price.IsPositive() || !qty.IsPositive() {
			continue
		}

		base := qty.Shift(int32(baseDecimals)).BigInt()
		quote := price.Mul(qty).Shift(int32(quoteDecimals)).BigInt()
		if base.Sign() == 0 || quote.Sign() == 0 {
			continue
		}
		out = append(out, domain.BookLevel{Base: base, Quote: quote})
	}
	return out, nil
}

// depthStream names the partial depth stream, e.g. "ethusdc@depth20@100ms".
func depthStream(symbol string, speedMs int) string {
	return strings.ToLower(symbol) + "@depth20@" + strconv.Itoa(speedMs) + "ms"
}

// symbolOf maps "ethusdc@depth20@100ms" back to "ETHUSDC".
func symbolOf(stream string) string {
	name, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(name)
}

func sumBase(levels []domain.BookLevel) *big.Int {
	total := new(big.Int)
	for _, l := range levels {
		total.Add(total, l.Base)
	}
	return total
}
