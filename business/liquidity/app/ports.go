// Package app contains the snapshot store and refresh services for the liquidity context.
package app

import (
	"context"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
)

// StateReader reads the state of many venues of one network in as few round trips as possible.
type StateReader interface {
	ReadVenues(ctx context.Context, venues []domain.Venue) ([]domain.Snapshot, error)
}

// SnapshotSink accepts normalized snapshots from a market-data feed.
type SnapshotSink interface {
	Put(s domain.Snapshot)
}

// BookFeed is a push feed of order-book snapshots.
type BookFeed interface {
	Connect(ctx context.Context) error
	Close() error
}
