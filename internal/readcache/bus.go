package readcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// TotalSubject carries one message per accepted batch, cluster-wide.
const TotalSubject = "button.total"

// TotalUpdate is the bus payload. Instance identifies the publisher so
// subscribers can skip their own messages.
type TotalUpdate struct {
	Total    uint64 `json:"total"`
	Instance string `json:"instance"`
}

type BusConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Bus fans accepted totals out to peer instances over core NATS. Peers
// invalidate their local caches on receipt, so a stale cached total lives
// at most one TTL even with several servers behind a balancer. Delivery is
// fire-and-forget; a missed invalidation only extends staleness to the TTL.
type Bus struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	instance string
}

func NewBus(cfg BusConfig) (*Bus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Bus{
		nc:       nc,
		instance: uuid.New().String(),
	}, nil
}

// PublishTotal announces a freshly accepted total. Best effort: the local
// invalidation has already happened by the time this is called.
func (b *Bus) PublishTotal(total uint64) {
	data, err := json.Marshal(TotalUpdate{Total: total, Instance: b.instance})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal total update")
		return
	}
	if err := b.nc.Publish(TotalSubject, data); err != nil {
		log.Error().Err(err).Uint64("total", total).Msg("Failed to publish total update")
	}
}

// SubscribeTotals delivers peer updates to fn. Messages published by this
// instance are dropped, the local path has already handled them.
func (b *Bus) SubscribeTotals(fn func(TotalUpdate)) error {
	sub, err := b.nc.Subscribe(TotalSubject, func(msg *nats.Msg) {
		var upd TotalUpdate
		if err := json.Unmarshal(msg.Data, &upd); err != nil {
			log.Error().Err(err).Msg("Malformed total update")
			return
		}
		if upd.Instance == b.instance {
			return
		}
		fn(upd)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TotalSubject, err)
	}
	b.sub = sub
	return nil
}

func (b *Bus) Close() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("Failed to unsubscribe from total updates")
		}
	}
	b.nc.Close()
	log.Info().Msg("Total update bus closed")
}
