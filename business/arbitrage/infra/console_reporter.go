// Package infra contains the reporters of the arbitrage context.
package infra

import (
	"context"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

// ConsoleReporter writes pipeline output to the structured log.
type ConsoleReporter struct {
	logger logger.LoggerInterface
}

var _ app.Reporter = (*ConsoleReporter)(nil)

// NewConsoleReporter creates a ConsoleReporter.
func NewConsoleReporter(log logger.LoggerInterface) *ConsoleReporter {
	return &ConsoleReporter{logger: log}
}

// Start logs the reporter start.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	r.logger.Info(ctx, "console reporter started")
	return nil
}

// Report logs a terminal submission result. Confirmed results log at info,
// everything else at warn.
func (r *ConsoleReporter) Report(ctx context.Context, res *subdomain.Result) {
	args := []any{
		"opportunity_id", res.OpportunityID,
		"chain_id", res.ChainID,
		"state", res.State,
		"outcome", res.Outcome,
		"channel", res.Channel,
		"privacy", res.Privacy.Level,
		"attempts", len(res.Attempts),
		"latency", res.FinishedAt.Sub(res.StartedAt),
	}
	if res.Confirmed() {
		args = append(args,
			"tx", res.TxHash.Hex(),
			"block", res.InclusionBlock,
			"gas_used", res.GasUsed,
			"realized_profit", res.RealizedProfit)
		r.logger.Info(ctx, "arbitrage confirmed", args...)
		return
	}
	if res.FailureReason != nil {
		args = append(args, "code", res.FailureReason.Code, "reason", res.FailureReason.Message)
	}
	r.logger.Warn(ctx, "arbitrage not confirmed", args...)
}

// ReportSpatial logs a cross-network candidate.
func (r *ConsoleReporter) ReportSpatial(ctx context.Context, c domain.SpatialCandidate) {
	r.logger.Info(ctx, "spatial candidate",
		"symbol", c.Symbol,
		"buy", c.Buy.String(),
		"sell", c.Sell.String(),
		"bridge_cost_bps", c.BridgeCostBps,
		"score", c.Score)
}

// Alert logs an operator alert.
func (r *ConsoleReporter) Alert(ctx context.Context, a domain.Alert) {
	r.logger.Error(ctx, "operator alert",
		"opportunity_id", a.OpportunityID,
		"chain_id", a.ChainID,
		"stage", a.Stage,
		"code", a.Code,
		"message", a.Message)
}

// Stop is a no-op.
func (r *ConsoleReporter) Stop() error { return nil }
