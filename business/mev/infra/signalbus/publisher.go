// Package signalbus mirrors MEV signals onto the redis signal bus.
package signalbus

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/fd1az/mev-arbitrage/business/mev/app"
	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

var _ app.SignalPublisher = (*Publisher)(nil)

// Message is the wire form of published signals.
type Message struct {
	ChainID     uint64    `json:"chain_id"`
	Congestion  string    `json:"congestion"`
	Density     string    `json:"density"`
	Level       string    `json:"level"`
	Sensors     []string  `json:"sensors"`
	PublishedAt time.Time `json:"published_at"`
}

// Bus is the slice of the redis signal bus the publisher uses.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publisher publishes to redis.ChannelSignals.
type Publisher struct {
	bus Bus
}

// NewPublisher wraps bus.
func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishSignals encodes s and publishes it.
func (p *Publisher) PublishSignals(ctx context.Context, s domain.Signals) error {
	payload, err := json.Marshal(NewMessage(s))
	if err != nil {
		return apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
	}
	return p.bus.Publish(ctx, redis.ChannelSignals, payload)
}

// NewMessage renders s for the wire; ratios go out as fixed 4-place decimals.
func NewMessage(s domain.Signals) Message {
	return Message{
		ChainID:     s.ChainID,
		Congestion:  s.Congestion.String(),
		Density:     s.Density.String(),
		Level:       string(s.Level()),
		Sensors:     s.Sensors,
		PublishedAt: s.PublishedAt,
	}
}
