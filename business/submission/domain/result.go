package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// Outcome summarizes how the outside world answered a submission.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimedOut Outcome = "timed_out"
)

// Attempt is one send on one channel.
type Attempt struct {
	Channel        string      `json:"channel"`
	Protected      bool        `json:"protected"`
	Nonce          uint64      `json:"nonce"`
	MaxPriorityFee *big.Int    `json:"max_priority_fee"`
	MinBlock       uint64      `json:"min_block"`
	MaxBlock       uint64      `json:"max_block"`
	ID             common.Hash `json:"id"`
	TxHash         common.Hash `json:"tx_hash"`
	Error          string      `json:"error,omitempty"`
	At             time.Time   `json:"at"`
}

// Failure is the error code and message that ended a submission.
type Failure struct {
	Code    apperror.Code `json:"code"`
	Message string        `json:"message"`
}

// Result is the record emitted once a submission reaches a terminal state.
type Result struct {
	OpportunityID  string          `json:"opportunity_id"`
	ChainID        uint64          `json:"chain_id"`
	Channel        string          `json:"channel,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	State          State           `json:"state"`
	Attempts       []Attempt       `json:"attempts"`
	BundleHash     common.Hash     `json:"bundle_hash"`
	TxHash         common.Hash     `json:"tx_hash"`
	InclusionBlock uint64          `json:"inclusion_block,omitempty"`
	GasUsed        uint64          `json:"gas_used,omitempty"`
	RealizedProfit *big.Int        `json:"realized_profit,omitempty"`
	FailureReason  *Failure        `json:"failure_reason,omitempty"`
	Privacy        PrivacyTradeoff `json:"privacy"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// NewResult starts a record in the Built state.
func NewResult(opportunityID string, chainID uint64, privacy PrivacyTradeoff, now time.Time) *Result {
	return &Result{
		OpportunityID: opportunityID,
		ChainID:       chainID,
		State:         StateBuilt,
		Privacy:       privacy,
		StartedAt:     now,
	}
}

// Transition moves the record to next or fails with CodeInvalidTransition.
func (r *Result) Transition(next State) error {
	if !r.State.CanTransition(next) {
		return invalidTransition(r.State, next)
	}
	r.State = next
	return nil
}

// Fail records err as the failure reason.
func (r *Result) Fail(err error) {
	if err == nil {
		return
	}
	r.FailureReason = &Failure{Code: apperror.GetCode(err), Message: err.Error()}
}

// Record appends an attempt.
func (r *Result) Record(a Attempt) {
	r.Attempts = append(r.Attempts, a)
}

// Finish stamps the record once it is terminal.
func (r *Result) Finish(outcome Outcome, now time.Time) {
	r.Outcome = outcome
	r.FinishedAt = now
}

// Confirmed reports whether the plan landed and succeeded.
func (r *Result) Confirmed() bool { return r.State == StateConfirmed }
