// Package app contains the submission use cases: nonce sequencing and the
// protected submit flow with its fallback chain.
package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/domain"
)

// Bundle is one signed transaction offered for a block range.
type Bundle struct {
	ChainID  uint64
	Tx       *types.Transaction
	Raw      []byte
	MinBlock uint64
	MaxBlock uint64
	Privacy  domain.PrivacyTradeoff
}

// Channel is a submission route. Protected channels hide the transaction
// from the public mempool.
type Channel interface {
	Name() string
	Protected() bool
	// Send returns the channel's identifier for the submission.
	Send(ctx context.Context, b Bundle) (common.Hash, error)
}

// Signer signs plans as EIP-1559 transactions.
type Signer interface {
	Address() common.Address
	SignPlan(plan exdomain.Plan, nonce uint64) (*types.Transaction, error)
}

// Simulation is a successful dry run.
type Simulation struct {
	GasUsed uint64
	Profit  *big.Int
}

// Simulator dry-runs a signed transaction against pending state.
type Simulator interface {
	Simulate(ctx context.Context, from common.Address, tx *types.Transaction) (Simulation, error)
}

// Inclusion is where a transaction landed.
type Inclusion struct {
	Block   uint64
	GasUsed uint64
	Success bool
}

// InclusionWatcher waits for a transaction up to and including the
// deadline block. It fails with CodeSubmissionTimeout when the deadline
// passes first.
type InclusionWatcher interface {
	Wait(ctx context.Context, chainID uint64, tx common.Hash, deadline uint64) (Inclusion, error)
}

// HeadSource reports the latest block per chain.
type HeadSource interface {
	Latest(chainID uint64) (*bcdomain.Block, bool)
}

// NonceSource reads the account's next nonce from chain state.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Locker is an optional cross-process mutex.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
