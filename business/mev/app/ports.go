// Package app runs the MEV sensors and publishes their blended signals.
package app

import (
	"context"

	"github.com/fd1az/mev-arbitrage/business/mev/domain"
)

// Sensor produces one reading of a network's congestion and searcher density.
type Sensor interface {
	Name() string
	Read(ctx context.Context, chainID uint64) (domain.Reading, error)
}

// SignalPublisher mirrors published signals to an external bus.
type SignalPublisher interface {
	PublishSignals(ctx context.Context, s domain.Signals) error
}

// SignalSource is the non-blocking read side of the hub.
type SignalSource interface {
	Latest(chainID uint64) domain.Signals
}
