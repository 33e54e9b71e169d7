package infra

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

// Bus is the slice of the redis signal bus the reporter writes to.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// SpatialMessage is the wire form of a cross-network candidate.
type SpatialMessage struct {
	Symbol        string `json:"symbol"`
	Buy           string `json:"buy"`
	BuyChainID    uint64 `json:"buy_chain_id"`
	Sell          string `json:"sell"`
	SellChainID   uint64 `json:"sell_chain_id"`
	BridgeCostBps uint32 `json:"bridge_cost_bps"`
	Score         string `json:"score"`
}

// RedisReporter appends results to redis.StreamResults and publishes
// operator alerts on redis.ChannelAlerts. Write failures are logged and
// never block the pipeline.
type RedisReporter struct {
	bus    Bus
	logger logger.LoggerInterface
}

var _ app.Reporter = (*RedisReporter)(nil)

// NewRedisReporter wraps bus.
func NewRedisReporter(bus Bus, log logger.LoggerInterface) *RedisReporter {
	return &RedisReporter{bus: bus, logger: log}
}

func (r *RedisReporter) Start(ctx context.Context) error { return nil }

// Report XADDs res to the result stream.
func (r *RedisReporter) Report(ctx context.Context, res *subdomain.Result) {
	r.write(ctx, redis.StreamResults, res, true)
}

// ReportSpatial XADDs c to the spatial stream.
func (r *RedisReporter) ReportSpatial(ctx context.Context, c domain.SpatialCandidate) {
	msg := SpatialMessage{
		Symbol:        c.Symbol,
		Buy:           c.Buy.String(),
		BuyChainID:    c.Buy.ChainID,
		Sell:          c.Sell.String(),
		SellChainID:   c.Sell.ChainID,
		BridgeCostBps: c.BridgeCostBps,
	}
	if c.Score != nil {
		msg.Score = c.Score.String()
	}
	r.write(ctx, redis.StreamSpatial, msg, true)
}

// Alert publishes a to the operator channel.
func (r *RedisReporter) Alert(ctx context.Context, a domain.Alert) {
	r.write(ctx, redis.ChannelAlerts, a, false)
}

func (r *RedisReporter) Stop() error { return nil }

func (r *RedisReporter) write(ctx context.Context, dest string, v any, stream bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn(ctx, "report encoding failed", "dest", dest, "error", err)
		return
	}
	if stream {
		err = r.bus.StreamAppend(ctx, dest, payload)
	} else {
		err = r.bus.Publish(ctx, dest, payload)
	}
	if err != nil {
		r.logger.Warn(ctx, "report write failed", "dest", dest, "error", err)
	}
}
