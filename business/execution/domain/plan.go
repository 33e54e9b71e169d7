// Package domain holds the execution plan: everything one atomic executor
// call needs, frozen once built.
package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// Loan is one flash-loan draw and what must be repaid for it.
type Loan struct {
	Provider string
	ZeroFee  bool
	Vault    common.Address
	Token    common.Address
	Amount   *big.Int
	Fee      *big.Int
}

// Repay is Amount plus Fee.
func (l Loan) Repay() *big.Int {
	return new(big.Int).Add(l.Amount, l.Fee)
}

// HopCall is one encoded swap with its expected and minimum outputs.
type HopCall struct {
	Call        liqdomain.Call
	Venue       liqdomain.VenueKey
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	ExpectedOut *big.Int
	MinOut      *big.Int
}

// Split divides the realised profit between treasury and operator.
type Split struct {
	Treasury    common.Address
	Operator    common.Address
	TreasuryBps uint32
}

// PlanParams carries what NewPlan freezes into a Plan.
type PlanParams struct {
	OpportunityID        string
	ChainID              uint64
	Executor             common.Address
	Anchor               common.Address
	Loans                []Loan
	Hops                 []HopCall
	Split                Split
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	DeadlineBlock        uint64
	Snapshots            []liqdomain.VenueKey
}

// Plan is an immutable, validated execution plan.
type Plan struct {
	opportunityID        string
	chainID              uint64
	executor             common.Address
	anchor               common.Address
	loans                []Loan
	hops                 []HopCall
	split                Split
	gasLimit             uint64
	maxFeePerGas         *big.Int
	maxPriorityFeePerGas *big.Int
	deadlineBlock        uint64
	snapshots            []liqdomain.VenueKey
	calldata             []byte
}

// NewPlan encodes the executor call and validates the result.
func NewPlan(p PlanParams) (Plan, error) {
	plan := Plan{
		opportunityID:        p.OpportunityID,
		chainID:              p.ChainID,
		executor:             p.Executor,
		anchor:               p.Anchor,
		loans:                cloneLoans(p.Loans),
		hops:                 cloneHops(p.Hops),
		split:                p.Split,
		gasLimit:             p.GasLimit,
		maxFeePerGas:         copyBig(p.MaxFeePerGas),
		maxPriorityFeePerGas: copyBig(p.MaxPriorityFeePerGas),
		deadlineBlock:        p.DeadlineBlock,
		snapshots:            append([]liqdomain.VenueKey(nil), p.Snapshots...),
	}
	if err := plan.checkFields(); err != nil {
		return Plan{}, err
	}
	data, err := plan.encode()
	if err != nil {
		return Plan{}, err
	}
	plan.calldata = data
	return plan, nil
}

func (p Plan) encode() ([]byte, error) {
	loans := make([]loanArg, len(p.loans))
	for i, l := range p.loans {
		kind := uint8(1)
		if l.ZeroFee {
			kind = 0
		}
		loans[i] = loanArg{Vault: l.Vault, Kind: kind, Token: l.Token, Amount: l.Amount, Fee: l.Fee}
	}
	hops := make([]hopArg, len(p.hops))
	for i, h := range p.hops {
		hops[i] = hopArg{
			Target:   h.Call.Target,
			Data:     h.Call.Data,
			TokenIn:  h.TokenIn,
			TokenOut: h.TokenOut,
			AmountIn: h.AmountIn,
			MinOut:   h.MinOut,
		}
	}
	split := splitArg{
		Treasury:    p.split.Treasury,
		Operator:    p.split.Operator,
		TreasuryBps: uint16(p.split.TreasuryBps),
	}
	data, err := ExecutorContract.Pack("execute", loans, hops, split, new(big.Int).SetUint64(p.deadlineBlock))
	if err != nil {
		return nil, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("executor.execute"))
	}
	return data, nil
}

// Validate rejects plans the executor would be certain to revert, or that
// would let a moved pool fill below what was priced.
func (p Plan) Validate() error {
	if err := p.checkFields(); err != nil {
		return err
	}
	if len(p.calldata) == 0 {
		return invalid("empty calldata")
	}
	return nil
}

func (p Plan) checkFields() error {
	if len(p.loans) == 0 {
		return invalid("no loans")
	}
	if len(p.hops) == 0 {
		return invalid("no hops")
	}

	borrowed, owed := new(big.Int), new(big.Int)
	for i, l := range p.loans {
		if l.Token != p.anchor {
			return invalid(fmt.Sprintf("loan %d borrows %s, not the anchor", i, l.Token.Hex()))
		}
		if !asset.IsPositive(l.Amount) || l.Fee == nil || l.Fee.Sign() < 0 {
			return invalid(fmt.Sprintf("loan %d has no amount", i))
		}
		borrowed.Add(borrowed, l.Amount)
		owed.Add(owed, l.Repay())
	}
	if owed.Cmp(borrowed) < 0 {
		return invalid("repay below borrow")
	}

	if p.hops[0].TokenIn != p.anchor {
		return invalid("first hop does not spend the anchor")
	}
	if p.hops[0].AmountIn == nil || p.hops[0].AmountIn.Cmp(borrowed) != 0 {
		return invalid("first hop does not spend the borrow")
	}
	for i, h := range p.hops {
		if i > 0 && p.hops[i-1].TokenOut != h.TokenIn {
			return invalid(fmt.Sprintf("hop %d breaks token continuity", i))
		}
		if !asset.IsPositive(h.AmountIn) {
			return invalid(fmt.Sprintf("hop %d has no input", i))
		}
		if !asset.IsPositive(h.MinOut) {
			return invalid(fmt.Sprintf("hop %d has no minimum output", i))
		}
		if h.ExpectedOut == nil || h.MinOut.Cmp(h.ExpectedOut) > 0 {
			return invalid(fmt.Sprintf("hop %d minimum output above expected", i))
		}
		if len(h.Call.Data) == 0 {
			return invalid(fmt.Sprintf("hop %d has no calldata", i))
		}
	}
	last := p.hops[len(p.hops)-1]
	if last.TokenOut != p.anchor {
		return invalid("last hop does not return the anchor")
	}
	if last.MinOut.Cmp(owed) < 0 {
		return invalid("final minimum output cannot repay the loans")
	}

	if p.split.TreasuryBps > asset.BpsDenominator {
		return invalid("treasury share above 100%")
	}
	if p.gasLimit == 0 {
		return invalid("no gas limit")
	}
	if !asset.IsPositive(p.maxFeePerGas) || p.maxPriorityFeePerGas == nil || p.maxPriorityFeePerGas.Cmp(p.maxFeePerGas) > 0 {
		return invalid("fee caps inconsistent")
	}
	return nil
}

func (p Plan) OpportunityID() string { return p.opportunityID }
func (p Plan) ChainID() uint64 { return p.chainID }
func (p Plan) Executor() common.Address { return p.executor }
func (p Plan) Anchor() common.Address { return p.anchor }
func (p Plan) Split() Split { return p.split }
func (p Plan) GasLimit() uint64 { return p.gasLimit }
func (p Plan) DeadlineBlock() uint64 { return p.deadlineBlock }

// Loans returns a copy of the loans.
func (p Plan) Loans() []Loan { return cloneLoans(p.loans) }

// Hops returns a copy of the hop calls.
func (p Plan) Hops() []HopCall { return cloneHops(p.hops) }

// Snapshots lists the venue snapshots the plan was priced on.
func (p Plan) Snapshots() []liqdomain.VenueKey {
	return append([]liqdomain.VenueKey(nil), p.snapshots...)
}

// Calldata is the executor call.
func (p Plan) Calldata() []byte { return append([]byte(nil), p.calldata...) }

func (p Plan) MaxFeePerGas() *big.Int { return copyBig(p.maxFeePerGas) }
func (p Plan) MaxPriorityFeePerGas() *big.Int { return copyBig(p.maxPriorityFeePerGas) }

// Borrowed is the sum of all loans.
func (p Plan) Borrowed() *big.Int {
	t := new(big.Int)
	for _, l := range p.loans {
		t.Add(t, l.Amount)
	}
	return t
}

// Owed is what the lenders get back.
func (p Plan) Owed() *big.Int {
	t := new(big.Int)
	for _, l := range p.loans {
		t.Add(t, l.Repay())
	}
	return t
}

// MinProfit is the least the executor can end with: final minOut less repay.
func (p Plan) MinProfit() *big.Int {
	return new(big.Int).Sub(p.hops[len(p.hops)-1].MinOut, p.Owed())
}

// WithFees returns a re-encoded copy with new fee caps, for resubmission.
func (p Plan) WithFees(maxFee, tip *big.Int) (Plan, error) {
	params := PlanParams{
		OpportunityID:        p.opportunityID,
		ChainID:              p.chainID,
		Executor:             p.executor,
		Anchor:               p.anchor,
		Loans:                p.loans,
		Hops:                 p.hops,
		Split:                p.split,
		GasLimit:             p.gasLimit,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		DeadlineBlock:        p.deadlineBlock,
		Snapshots:            p.snapshots,
	}
	return NewPlan(params)
}

func invalid(why string) error {
	return apperror.New(apperror.CodeInvalidPlan, apperror.WithContext(why))
}

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func cloneLoans(in []Loan) []Loan {
	out := make([]Loan, len(in))
	for i, l := range in {
		out[i] = l
		out[i].Amount, out[i].Fee = copyBig(l.Amount), copyBig(l.Fee)
	}
	return out
}

func cloneHops(in []HopCall) []HopCall {
	out := make([]HopCall, len(in))
	for i, h := range in {
		out[i] = h
		out[i].Call.Data = append([]byte(nil), h.Call.Data...)
		out[i].Call.Value = copyBig(h.Call.Value)
		out[i].AmountIn, out[i].ExpectedOut, out[i].MinOut = copyBig(h.AmountIn), copyBig(h.ExpectedOut), copyBig(h.MinOut)
	}
	return out
}
