package app

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

var (
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	executor = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	gwei     = big.NewInt(1_000_000_000)
)

func testPlan(t *testing.T) exdomain.Plan {
	t.Helper()
	amount := big.NewInt(1_000_000)
	mid := big.NewInt(2_000)
	out := big.NewInt(1_010_000)
	plan, err := exdomain.NewPlan(exdomain.PlanParams{
		OpportunityID: "opp-1",
		ChainID:       1,
		Executor:      executor,
		Anchor:        weth,
		Loans: []exdomain.Loan{{
			Provider: "balancer",
			ZeroFee:  true,
			Token:    weth,
			Amount:   amount,
			Fee:      new(big.Int),
		}},
		Hops: []exdomain.HopCall{
			{
				Call:        liqdomain.Call{Target: common.HexToAddress("0xa1"), Data: []byte{1}, Value: new(big.Int)},
				TokenIn:     weth,
				TokenOut:    usdc,
				AmountIn:    amount,
				ExpectedOut: mid,
				MinOut:      mid,
			},
			{
				Call:        liqdomain.Call{Target: common.HexToAddress("0xb1"), Data: []byte{2}, Value: new(big.Int)},
				TokenIn:     usdc,
				TokenOut:    weth,
				AmountIn:    mid,
				ExpectedOut: out,
				MinOut:      amount,
			},
		},
		GasLimit:             500_000,
		MaxFeePerGas:         new(big.Int).Mul(gwei, big.NewInt(3)),
		MaxPriorityFeePerGas: new(big.Int).Set(gwei),
		DeadlineBlock:        110,
	})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

type fakeSigner struct{}

func (fakeSigner) Address() common.Address { return account }

func (fakeSigner) SignPlan(plan exdomain.Plan, nonce uint64) (*types.Transaction, error) {
	to := plan.Executor()
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(plan.ChainID()),
		Nonce:     nonce,
		GasTipCap: plan.MaxPriorityFeePerGas(),
		GasFeeCap: plan.MaxFeePerGas(),
		Gas:       plan.GasLimit(),
		To:        &to,
		Value:     new(big.Int),
		Data:      plan.Calldata(),
	}), nil
}

type fakeSimulator struct {
	err   error
	calls int
}

func (f *fakeSimulator) Simulate(ctx context.Context, from common.Address, tx *types.Transaction) (Simulation, error) {
	f.calls++
	if f.err != nil {
		return Simulation{}, f.err
	}
	return Simulation{GasUsed: 310_000, Profit: big.NewInt(4_200)}, nil
}

// chainLedger stands in for the chain: transactions sent through an
// including channel land, everything else times out.
type chainLedger struct {
	mu      sync.Mutex
	landed  map[common.Hash]bool
	success bool
}

func newLedger() *chainLedger {
	return &chainLedger{landed: make(map[common.Hash]bool), success: true}
}

func (l *chainLedger) land(h common.Hash) {
	l.mu.Lock()
	l.landed[h] = true
	l.mu.Unlock()
}

func (l *chainLedger) Wait(ctx context.Context, chainID uint64, tx common.Hash, deadline uint64) (Inclusion, error) {
	l.mu.Lock()
	ok := l.landed[tx]
	success := l.success
	l.mu.Unlock()
	if !ok {
		return Inclusion{}, apperror.New(apperror.CodeSubmissionTimeout)
	}
	return Inclusion{Block: 101, GasUsed: 300_000, Success: success}, nil
}

type fakeChannel struct {
	name      string
	protected bool
	includes  bool
	err       error
	ledger    *chainLedger

	mu   sync.Mutex
	sent []Bundle
}

func (c *fakeChannel) Name() string    { return c.name }
func (c *fakeChannel) Protected() bool { return c.protected }

func (c *fakeChannel) Send(ctx context.Context, b Bundle) (common.Hash, error) {
	c.mu.Lock()
	c.sent = append(c.sent, b)
	c.mu.Unlock()
	if c.err != nil {
		return common.Hash{}, c.err
	}
	if c.includes {
		c.ledger.land(b.Tx.Hash())
	}
	return common.BytesToHash([]byte(c.name)), nil
}

func (c *fakeChannel) sends() []Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Bundle(nil), c.sent...)
}

type fixedHead uint64

func (h fixedHead) Latest(chainID uint64) (*bcdomain.Block, bool) {
	return &bcdomain.Block{ChainID: chainID, Number: uint64(h)}, true
}

type harness struct {
	ledger    *chainLedger
	nonces    *chainNonce
	sim       *fakeSimulator
	primary   *fakeChannel
	secondary *fakeChannel
	public    *fakeChannel
	cfg       SubmitterConfig
}

func newHarness() *harness {
	ledger := newLedger()
	return &harness{
		ledger:    ledger,
		nonces:    &chainNonce{value: 7},
		sim:       &fakeSimulator{},
		primary:   &fakeChannel{name: "primary", protected: true, ledger: ledger},
		secondary: &fakeChannel{name: "secondary", protected: true, ledger: ledger},
		public:    &fakeChannel{name: "public", ledger: ledger},
		cfg: SubmitterConfig{
			InclusionBlocks:    2,
			MaxRetries:         2,
			PriorityFeeBumpBps: 1250,
			PublicFallback:     true,
			Privacy: domain.PrivacyPolicy{
				Default:   domain.PrivacyHigh,
				Threshold: map[string]*big.Int{"WETH": big.NewInt(1_000_000)},
			},
		},
	}
}

func (h *harness) submitter() *Submitter {
	seq := NewSequencer(1, account, h.nonces, nil, &mockLogger{})
	routes := map[uint64]Route{1: {
		Sequencer: seq,
		Simulator: h.sim,
		Protected: []Channel{h.primary, h.secondary},
		Public:    h.public,
	}}
	s := NewSubmitter(h.cfg, routes, fakeSigner{}, h.ledger, fixedHead(100), &mockLogger{})
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s
}

func request(t *testing.T, value int64) Request {
	return Request{Plan: testPlan(t), Anchor: "WETH", Value: big.NewInt(value)}
}

func TestSubmitter_PrimaryConfirms(t *testing.T) {
	h := newHarness()
	h.primary.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.State != domain.StateConfirmed || res.Outcome != domain.OutcomeAccepted {
		t.Fatalf("state/outcome = %s/%s", res.State, res.Outcome)
	}
	if res.Channel != "primary" || len(res.Attempts) != 1 {
		t.Errorf("channel = %s, attempts = %d", res.Channel, len(res.Attempts))
	}
	if res.RealizedProfit.Int64() != 4_200 || res.InclusionBlock != 101 {
		t.Errorf("profit = %s, block = %d", res.RealizedProfit, res.InclusionBlock)
	}
	if res.Privacy.Level != domain.PrivacyHigh {
		t.Errorf("privacy = %s", res.Privacy.Level)
	}

	b := h.primary.sends()[0]
	if b.MinBlock != 101 || b.MaxBlock != 102 || b.Tx.Nonce() != 7 {
		t.Errorf("bundle range %d-%d nonce %d", b.MinBlock, b.MaxBlock, b.Tx.Nonce())
	}

	// confirmed leases advance without a chain read
	seq, _ := s.Sequencer(1)
	lease, err := seq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Nonce() != 8 || h.nonces.count() != 1 {
		t.Errorf("next nonce = %d after %d reads", lease.Nonce(), h.nonces.count())
	}
	lease.Confirm()
}

// A plan that fails simulation never reaches a channel.
func TestSubmitter_SimulationFailureDiscards(t *testing.T) {
	h := newHarness()
	h.primary.includes = true
	h.sim.err = apperror.New(apperror.CodeSimulationFailure, apperror.WithContext("MinOutNotMet"))
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeSimulationFailure) {
		t.Fatalf("err = %v, want SIMULATION_FAILURE", err)
	}
	if res.State != domain.StateDiscarded || res.Outcome != domain.OutcomeRejected {
		t.Errorf("state/outcome = %s/%s", res.State, res.Outcome)
	}
	if res.FailureReason == nil || res.FailureReason.Code != apperror.CodeSimulationFailure {
		t.Errorf("failure = %+v", res.FailureReason)
	}
	if n := len(h.primary.sends()) + len(h.secondary.sends()) + len(h.public.sends()); n != 0 {
		t.Errorf("%d sends after failed simulation", n)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("attempts = %d", len(res.Attempts))
	}

	// the lease was released for resync
	seq, _ := s.Sequencer(1)
	lease, err := seq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lease.Confirm()
	if h.nonces.count() != 2 {
		t.Errorf("chain reads = %d, want resync", h.nonces.count())
	}
}

func TestSubmitter_RetriesThenSecondary(t *testing.T) {
	h := newHarness()
	h.secondary.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Channel != "secondary" || res.State != domain.StateConfirmed {
		t.Fatalf("channel/state = %s/%s", res.Channel, res.State)
	}

	sent := h.primary.sends()
	if len(sent) != 3 {
		t.Fatalf("primary sends = %d, want 1 + 2 retries", len(sent))
	}
	for i := 1; i < len(sent); i++ {
		prev, cur := sent[i-1].Tx, sent[i].Tx
		if cur.Nonce() != prev.Nonce() {
			t.Errorf("retry %d changed nonce", i)
		}
		if cur.GasTipCap().Cmp(prev.GasTipCap()) <= 0 {
			t.Errorf("retry %d tip %s not above %s", i, cur.GasTipCap(), prev.GasTipCap())
		}
		if cur.GasFeeCap().Cmp(new(big.Int).Add(prev.GasFeeCap(), new(big.Int).Sub(cur.GasTipCap(), prev.GasTipCap()))) < 0 {
			t.Errorf("retry %d fee cap not raised with tip", i)
		}
	}
	if want := big.NewInt(1_125_000_000); sent[1].Tx.GasTipCap().Cmp(want) != 0 {
		t.Errorf("first bump tip = %s, want %s", sent[1].Tx.GasTipCap(), want)
	}
	if len(res.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(res.Attempts))
	}
	if len(h.public.sends()) != 0 {
		t.Error("public channel used although a protected one landed")
	}
}

func TestSubmitter_PublicFallbackBelowThreshold(t *testing.T) {
	h := newHarness()
	h.public.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Channel != "public" {
		t.Errorf("channel = %s, want public", res.Channel)
	}
	last := res.Attempts[len(res.Attempts)-1]
	if last.Protected {
		t.Error("last attempt should be the public one")
	}
}

// Above the protection threshold the public mempool is never touched.
func TestSubmitter_NoPublicAboveThreshold(t *testing.T) {
	h := newHarness()
	h.public.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 2_000_000))
	if !apperror.HasCode(err, apperror.CodeSubmissionTimeout) {
		t.Fatalf("err = %v, want SUBMISSION_TIMEOUT", err)
	}
	if res.State != domain.StateExpired || res.Outcome != domain.OutcomeTimedOut {
		t.Errorf("state/outcome = %s/%s", res.State, res.Outcome)
	}
	if len(h.public.sends()) != 0 {
		t.Error("public channel used above the protection threshold")
	}
	if res.Privacy.Level != domain.PrivacyMax {
		t.Errorf("privacy = %s, want max above threshold", res.Privacy.Level)
	}
	for _, a := range res.Attempts {
		if !a.Protected {
			t.Errorf("unprotected attempt on %s", a.Channel)
		}
	}
}

func TestSubmitter_NoChannelAvailable(t *testing.T) {
	h := newHarness()
	h.cfg.PublicFallback = false
	s := h.submitter()
	route := s.routes[1]
	route.Protected = nil
	s.routes[1] = route

	res, err := s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeProtectionViolation) {
		t.Fatalf("err = %v, want PROTECTION_VIOLATION", err)
	}
	if res.State != domain.StateDiscarded || h.sim.calls != 0 {
		t.Errorf("state = %s, simulations = %d", res.State, h.sim.calls)
	}
}

func TestSubmitter_NonceTooLowHalts(t *testing.T) {
	h := newHarness()
	h.primary.err = errors.New("rpc error -32000: nonce too low")
	h.secondary.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeSequenceConflict) {
		t.Fatalf("err = %v, want SEQUENCE_CONFLICT", err)
	}
	if res.State != domain.StateExpired || res.Outcome != domain.OutcomeRejected {
		t.Errorf("state/outcome = %s/%s", res.State, res.Outcome)
	}
	if len(h.secondary.sends()) != 0 {
		t.Error("fallback continued after a sequence conflict")
	}

	seq, _ := s.Sequencer(1)
	if !seq.Halted() {
		t.Fatal("account should be halted")
	}

	// the chain cannot be read, so the account stays halted
	h.nonces.mu.Lock()
	h.nonces.err = errors.New("rpc down")
	h.nonces.mu.Unlock()
	res, err = s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeSequenceConflict) || res.State != domain.StateDiscarded {
		t.Fatalf("submit while halted: state %s err %v", res.State, err)
	}
	if h.sim.calls != 1 {
		t.Errorf("simulations = %d, want none while halted", h.sim.calls)
	}
	h.nonces.mu.Lock()
	h.nonces.err = nil
	h.nonces.mu.Unlock()

	h.primary.err = nil
	h.primary.includes = true
	if _, err := s.Submit(context.Background(), request(t, 500)); err != nil {
		t.Fatalf("Submit after chain recovered: %v", err)
	}
	if seq.Halted() {
		t.Error("still halted after a resynced submission")
	}
}

// One stale-nonce rejection costs one resync, not the account.
func TestSubmitter_RecoversAfterNonceConflict(t *testing.T) {
	h := newHarness()
	h.primary.err = errors.New("nonce too low")
	s := h.submitter()

	if _, err := s.Submit(context.Background(), request(t, 500)); !apperror.HasCode(err, apperror.CodeSequenceConflict) {
		t.Fatalf("err = %v, want SEQUENCE_CONFLICT", err)
	}

	h.primary.err = nil
	h.primary.includes = true
	h.nonces.set(8)
	for i := range 5 {
		res, err := s.Submit(context.Background(), request(t, 500))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if res.State != domain.StateConfirmed {
			t.Fatalf("submit %d state = %s", i, res.State)
		}
	}

	sent := h.primary.sends()
	if got := sent[len(sent)-1].Tx.Nonce(); got != 12 {
		t.Errorf("last nonce = %d, want 12", got)
	}
	if h.nonces.count() != 2 {
		t.Errorf("chain nonce reads = %d, want 2", h.nonces.count())
	}
}

func TestSubmitter_RevertedOnChain(t *testing.T) {
	h := newHarness()
	h.primary.includes = true
	h.ledger.success = false
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeTransactionReverted) {
		t.Fatalf("err = %v, want TRANSACTION_REVERTED", err)
	}
	if res.State != domain.StateReverted || res.InclusionBlock != 101 {
		t.Errorf("state = %s, block = %d", res.State, res.InclusionBlock)
	}
	if res.RealizedProfit != nil {
		t.Errorf("reverted plan reports profit %s", res.RealizedProfit)
	}
}

func TestSubmitter_RaceHonorsOneChannel(t *testing.T) {
	h := newHarness()
	h.cfg.RaceMode = true
	h.primary.includes = true
	h.secondary.includes = true
	s := h.submitter()

	res, err := s.Submit(context.Background(), request(t, 500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.State != domain.StateConfirmed {
		t.Fatalf("state = %s", res.State)
	}
	if res.Channel != "primary" && res.Channel != "secondary" {
		t.Errorf("channel = %s", res.Channel)
	}
	if len(h.public.sends()) != 0 {
		t.Error("race touched the public channel")
	}
	for _, a := range res.Attempts {
		if a.Nonce != 7 {
			t.Errorf("attempt on %s used nonce %d", a.Channel, a.Nonce)
		}
	}
}

func TestSubmitter_DeadlinePassed(t *testing.T) {
	h := newHarness()
	h.primary.includes = true
	s := h.submitter()
	s.heads = fixedHead(110)

	res, err := s.Submit(context.Background(), request(t, 500))
	if !apperror.HasCode(err, apperror.CodeSubmissionTimeout) {
		t.Fatalf("err = %v, want SUBMISSION_TIMEOUT", err)
	}
	if res.State != domain.StateExpired {
		t.Errorf("state = %s", res.State)
	}
	if len(h.primary.sends()) != 0 || len(h.public.sends()) != 0 {
		t.Error("sent after the deadline block")
	}
}
