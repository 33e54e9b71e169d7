package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// Call is one encoded contract call.
type Call struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// HopCallParams carries what a venue needs to encode its swap.
type HopCallParams struct {
	TokenIn     common.Address
	AmountIn    *big.Int
	ExpectedOut *big.Int
	MinOut      *big.Int
	Recipient   common.Address
}

// Pricer is the capability every venue variant exposes. The set of variants
// is closed: NewPricer is the only constructor and adding a protocol means
// adding a case there.
type Pricer interface {
	Venue() Venue
	Kind() ProtocolKind
	SupportsInstrument(token common.Address) bool
	// QuoteOutput is the exact output after the venue fee.
	QuoteOutput(amountIn *big.Int, tokenIn common.Address) (*big.Int, error)
	// QuoteGross is the exact output with the venue fee set to zero.
	QuoteGross(amountIn *big.Int, tokenIn common.Address) (*big.Int, error)
	// SpotRate is the marginal out/in ratio, ignoring fees. Heuristic only.
	SpotRate(tokenIn common.Address) (num, den *big.Int)
	BuildHopCall(p HopCallParams) (Call, error)
}

// NewPricer dispatches a snapshot to its venue math.
func NewPricer(s Snapshot) (Pricer, error) {
	switch s.Venue.Protocol {
	case ConstantProduct:
		return constantProduct{snap: s}, nil
	case ConcentratedLiquidity:
		return concentrated{snap: s}, nil
	case StableSwap:
		return stableSwap{snap: s}, nil
	case OrderBook:
		return orderBook{snap: s}, nil
	default:
		return nil, apperror.New(apperror.CodeUnsupportedProtocol,
			apperror.WithContext(s.Venue.Protocol.String()))
	}
}

func checkQuoteInput(v Venue, amountIn *big.Int, tokenIn common.Address) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return apperror.New(apperror.CodeInvalidAmount, apperror.WithContext("amountIn must be positive"))
	}
	if !v.Trades(tokenIn) {
		return apperror.New(apperror.CodeUnsupportedToken,
			apperror.WithContext(v.Key().String()+" does not trade "+tokenIn.Hex()))
	}
	return nil
}

func insufficient(v Venue, why string) error {
	return apperror.New(apperror.CodeInsufficientLiquidity, apperror.WithContext(v.Key().String()+": "+why))
}
