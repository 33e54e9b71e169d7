// Package domain holds chain heads, fee quotes and subscriber state.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a chain head as delivered to the rest of the system.
//
// OrphanedFrom is non-zero when this head replaces blocks that were already
// delivered, either because it carries a different hash at a known height
// or because its parent is not the previous head. Everything observed at
// OrphanedFrom or above on the old branch is void.
type Block struct {
	ChainID      uint64
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Timestamp    time.Time
	GasLimit     uint64
	GasUsed      uint64
	BaseFee      *big.Int
	OrphanedFrom uint64
}

func (b *Block) Reorged() bool { return b.OrphanedFrom != 0 }

// UtilizationPPM is gas used over gas limit in parts per million.
func (b *Block) UtilizationPPM() uint64 {
	if b.GasLimit == 0 {
		return 0
	}
	return b.GasUsed * 1_000_000 / b.GasLimit
}

// Age is the time since the block was sealed.
func (b *Block) Age(now time.Time) time.Duration {
	return now.Sub(b.Timestamp)
}

// ConnectionState is where a head subscriber stands with its node.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	// StatePolling means the push stream is down and heads come from HTTP.
	StatePolling ConnectionState = "polling"
)

// Healthy reports whether heads are still arriving, by either transport.
func (s ConnectionState) Healthy() bool {
	return s == StateConnected || s == StatePolling
}

// Gauge maps a state onto the eth_connection_state gauge.
func (s ConnectionState) Gauge() int64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	case StatePolling:
		return 4
	}
	return 0
}
