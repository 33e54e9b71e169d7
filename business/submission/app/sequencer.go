package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const defaultLockTTL = 2 * time.Minute

// Sequencer owns the nonce of one account on one chain. At most one lease is
// outstanding, so submissions from the same account never compete.
type Sequencer struct {
	chainID uint64
	account common.Address
	nonces  NonceSource
	lock    Locker
	lockTTL time.Duration
	logger  logger.LoggerInterface

	sem     *semaphore.Weighted
	cleared metric.Int64Counter

	mu     sync.Mutex
	next   uint64
	synced bool
	halted bool
}

// NewSequencer creates a sequencer that syncs from chain on first use.
// lock may be nil.
func NewSequencer(chainID uint64, account common.Address, nonces NonceSource, lock Locker, log logger.LoggerInterface) *Sequencer {
	s := &Sequencer{
		chainID: chainID,
		account: account,
		nonces:  nonces,
		lock:    lock,
		lockTTL: defaultLockTTL,
		logger:  log,
		sem:     semaphore.NewWeighted(1),
	}
	s.cleared, _ = otel.Meter(meterName).Int64Counter("submission_sequencer_halts_cleared_total",
		metric.WithDescription("Account halts lifted by a nonce resync"))
	return s
}

// Lease is the right to use one nonce. Exactly one of Confirm, Fail or
// Conflict settles it; later calls are no-ops.
type Lease struct {
	seq    *Sequencer
	nonce  uint64
	unlock func()
	once   sync.Once
}

// Nonce is the leased nonce.
func (l *Lease) Nonce() uint64 { return l.nonce }

// Confirm advances the counter past the leased nonce.
func (l *Lease) Confirm() {
	l.settle(func(s *Sequencer) {
		s.next = l.nonce + 1
	})
}

// Fail flags the counter for resync from chain before the next lease.
func (l *Lease) Fail() {
	l.settle(func(s *Sequencer) {
		s.synced = false
	})
}

// Conflict halts the account until its nonce is reloaded from chain.
func (l *Lease) Conflict() {
	l.settle(func(s *Sequencer) {
		s.synced = false
		s.halted = true
	})
}

func (l *Lease) settle(fn func(*Sequencer)) {
	l.once.Do(func() {
		l.seq.mu.Lock()
		fn(l.seq)
		l.seq.mu.Unlock()
		if l.unlock != nil {
			l.unlock()
		}
		l.seq.sem.Release(1)
	})
}

// Acquire waits for the account, resyncs if flagged and leases the next
// nonce. A halted account is resynced first; it fails with
// CodeSequenceConflict only while the chain cannot be read.
func (s *Sequencer) Acquire(ctx context.Context) (*Lease, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var unlock func()
	if s.lock != nil {
		u, err := s.lock.Acquire(ctx, s.lockKey(), s.lockTTL)
		if err != nil {
			s.sem.Release(1)
			return nil, err
		}
		unlock = u
	}

	release := func() {
		if unlock != nil {
			unlock()
		}
		s.sem.Release(1)
	}

	s.mu.Lock()
	halted, synced := s.halted, s.synced
	s.mu.Unlock()

	if halted {
		if err := s.sync(ctx); err != nil {
			release()
			return nil, apperror.New(apperror.CodeSequenceConflict,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("account %s halted on chain %d", s.account.Hex(), s.chainID)))
		}
		s.resume(ctx)
	} else if !synced {
		if err := s.sync(ctx); err != nil {
			release()
			return nil, err
		}
	}

	s.mu.Lock()
	nonce := s.next
	s.mu.Unlock()

	return &Lease{seq: s, nonce: nonce, unlock: unlock}, nil
}

// Resync reloads the counter from chain and lifts a halt.
func (s *Sequencer) Resync(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if err := s.sync(ctx); err != nil {
		return err
	}
	s.resume(ctx)
	return nil
}

// resume lifts a halt after a successful sync.
func (s *Sequencer) resume(ctx context.Context) {
	s.mu.Lock()
	wasHalted := s.halted
	s.halted = false
	next := s.next
	s.mu.Unlock()

	if !wasHalted {
		return
	}
	s.cleared.Add(ctx, 1, metric.WithAttributes(attribute.Int64("chain_id", int64(s.chainID))))
	s.logger.Warn(ctx, "account halt cleared",
		"chain_id", s.chainID,
		"account", s.account.Hex(),
		"nonce", next)
}

// Halted reports whether submissions are blocked pending resync.
func (s *Sequencer) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Account is the sequenced address.
func (s *Sequencer) Account() common.Address { return s.account }

func (s *Sequencer) sync(ctx context.Context) error {
	n, err := s.nonces.PendingNonceAt(ctx, s.account)
	if err != nil {
		return apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("pending nonce"))
	}
	s.mu.Lock()
	prev := s.next
	s.next = n
	s.synced = true
	s.mu.Unlock()

	if prev != n {
		s.logger.Debug(ctx, "nonce resynced", "chain_id", s.chainID, "from", prev, "to", n)
	}
	return nil
}

func (s *Sequencer) lockKey() string {
	return fmt.Sprintf("nonce:%d:%s", s.chainID, s.account.Hex())
}
