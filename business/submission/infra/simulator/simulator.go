// Package simulator dry-runs executor transactions before anything is sent.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/app"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

const tracerName = "github.com/fd1az/mev-arbitrage/business/submission/infra/simulator"

// Caller runs calls against pending state; *ethclient.Client satisfies it.
type Caller interface {
	PendingCallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// BundleCaller is a relay that can simulate a bundle for a target block.
type BundleCaller interface {
	CallBundle(ctx context.Context, raw []byte, block uint64) (uint64, error)
}

// HeadSource reports the latest block.
type HeadSource interface {
	Latest(chainID uint64) (*bcdomain.Block, bool)
}

var _ app.Simulator = (*Simulator)(nil)

// Simulator checks a signed transaction with eth_call and, when a bundle
// caller is set, with the relay's eth_callBundle as well.
type Simulator struct {
	chainID uint64
	caller  Caller
	bundle  BundleCaller
	heads   HeadSource
	tracer  trace.Tracer
}

// New creates a simulator for chainID. bundle may be nil.
func New(chainID uint64, caller Caller, bundle BundleCaller, heads HeadSource) *Simulator {
	return &Simulator{
		chainID: chainID,
		caller:  caller,
		bundle:  bundle,
		heads:   heads,
		tracer:  otel.Tracer(tracerName),
	}
}

// Simulate fails with CodeSimulationFailure and the decoded revert reason
// when the executor would revert.
func (s *Simulator) Simulate(ctx context.Context, from common.Address, tx *types.Transaction) (app.Simulation, error) {
	ctx, span := s.tracer.Start(ctx, "submission.simulate",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(s.chainID)),
			attribute.String("tx", tx.Hash().Hex()),
		),
	)
	defer span.End()

	msg := ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}

	out, err := s.caller.PendingCallContract(ctx, msg)
	if err != nil {
		err = simulationError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverted")
		return app.Simulation{}, err
	}

	profit := new(big.Int)
	if vals, uerr := exdomain.ExecutorContract.Unpack("execute", out); uerr == nil && len(vals) == 1 {
		if p, ok := vals[0].(*big.Int); ok {
			profit = p
		}
	}

	gas, err := s.caller.EstimateGas(ctx, msg)
	if err != nil {
		err = simulationError(err)
		span.RecordError(err)
		return app.Simulation{}, err
	}
	if gas > tx.Gas() {
		err := apperror.New(apperror.CodeSimulationFailure,
			apperror.WithContext(fmt.Sprintf("needs %d gas, limit %d", gas, tx.Gas())))
		span.RecordError(err)
		return app.Simulation{}, err
	}

	if s.bundle != nil {
		head, ok := s.heads.Latest(s.chainID)
		if !ok {
			return app.Simulation{}, apperror.New(apperror.CodeEthereumRPCError,
				apperror.WithContext(fmt.Sprintf("no head for chain %d", s.chainID)))
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return app.Simulation{}, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
		}
		bundleGas, err := s.bundle.CallBundle(ctx, raw, head.Number+1)
		if err != nil {
			span.RecordError(err)
			return app.Simulation{}, err
		}
		gas = max(gas, bundleGas)
	}

	span.SetAttributes(
		attribute.Int64("gas_used", int64(gas)),
		attribute.String("profit", profit.String()),
	)
	return app.Simulation{GasUsed: gas, Profit: profit}, nil
}

// dataError is what go-ethereum's rpc client returns for every JSON-RPC
// error, reverts included.
type dataError interface {
	ErrorData() interface{}
}

// simulationError decodes the revert payload when there is one. Other node
// errors keep their RPC code so they are not mistaken for reverts.
func simulationError(err error) error {
	var data interface{}
	var de dataError
	if errors.As(err, &de) {
		data = de.ErrorData()
	}
	if data == nil && !strings.Contains(err.Error(), vm.ErrExecutionReverted.Error()) {
		return apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("simulate"))
	}
	return apperror.New(apperror.CodeSimulationFailure,
		apperror.WithCause(err),
		apperror.WithContext(RevertReason(data)))
}

// RevertReason turns revert data into text: Error(string), one of the
// executor's custom errors, or the raw hex.
func RevertReason(data interface{}) string {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return v
		}
		raw = b
	case []byte:
		raw = v
	default:
		return "reverted"
	}
	if len(raw) == 0 {
		return "reverted without reason"
	}

	if reason, err := abi.UnpackRevert(raw); err == nil {
		return reason
	}
	if len(raw) >= 4 {
		for name, e := range exdomain.ExecutorContract.Errors {
			if [4]byte(e.ID[:4]) != [4]byte(raw[:4]) {
				continue
			}
			args, err := e.Unpack(raw)
			if err != nil {
				return name
			}
			return fmt.Sprintf("%s%v", name, args)
		}
	}
	return hexutil.Encode(raw)
}
