// Package paper implements the in-memory dry-run broker used by backtest and replay.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"barbot-go/internal/execution"
	"barbot-go/internal/metrics"
	"barbot-go/internal/signal"

	"github.com/rs/zerolog"
)

// Broker fills every order at the requested price and applies realized P&L to
// its balance on close, so AccountInfo always reflects trade history.
type Broker struct {
	mu      sync.Mutex
	account *Account
	ledger  *Ledger
	open    map[string]openOrder
	seq     int
	log     zerolog.Logger
}

type openOrder struct {
	positionID string
	instrument string
	side       signal.Side
	volume     float64
}

var _ execution.Broker = (*Broker)(nil)

// NewBroker builds a paper broker. ledger may be nil.
func NewBroker(startBalance float64, ledger *Ledger, log zerolog.Logger) *Broker {
	if ledger == nil {
		ledger = NewLedger(64)
	}
	return &Broker{
		account: NewAccount(startBalance),
		ledger:  ledger,
		open:    make(map[string]openOrder),
		log:     log.With().Str("component", "paper_broker").Logger(),
	}
}

// Name identifies the broker in logs and metrics.
func (b *Broker) Name() string { return "paper" }

// Ledger exposes the recorded fills.
func (b *Broker) Ledger() *Ledger { return b.ledger }

// Account exposes the simulated account.
func (b *Broker) Account() *Account { return b.account }

// PlaceOrder fills at req.Entry. Order IDs are sequential so replays are reproducible.
func (b *Broker) PlaceOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	if err := ctx.Err(); err != nil {
		return execution.Fill{}, &execution.BrokerError{Kind: execution.KindTimeout, Broker: b.Name(), Op: "place", Err: err}
	}
	metrics.OrdersTotal.WithLabelValues(b.Name(), req.Instrument, string(req.Side)).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("paper-%04d", b.seq+1)
	if err := b.account.Open(id, req.Instrument, req.Side, req.Volume, req.Entry, req.UnitValue); err != nil {
		return execution.Fill{}, &execution.BrokerError{Kind: execution.KindRejected, Broker: b.Name(), Op: "place", Err: err}
	}
	b.seq++
	b.open[id] = openOrder{positionID: req.PositionID, instrument: req.Instrument, side: req.Side, volume: req.Volume}
	fill := execution.Fill{
		OrderID:    id,
		PositionID: req.PositionID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Volume:     req.Volume,
		Price:      req.Entry,
		Time:       req.At,
	}
	b.ledger.Record(fill)
	b.log.Debug().Str("order_id", id).Str("instrument", req.Instrument).Str("side", string(req.Side)).Float64("price", req.Entry).Float64("volume", req.Volume).Msg("paper fill")
	return fill, nil
}

// CloseOrder realizes P&L at price.
func (b *Broker) CloseOrder(ctx context.Context, orderID string, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.open[orderID]
	if !ok {
		return &execution.BrokerError{Kind: execution.KindRejected, Broker: b.Name(), Op: "close", Err: fmt.Errorf("unknown order %s", orderID)}
	}
	pnl, err := b.account.Close(orderID, price)
	if err != nil {
		return &execution.BrokerError{Kind: execution.KindRejected, Broker: b.Name(), Op: "close", Err: err}
	}
	delete(b.open, orderID)
	b.ledger.Record(execution.Fill{
		OrderID:    orderID,
		PositionID: order.positionID,
		Instrument: order.instrument,
		Side:       order.side,
		Volume:     order.volume,
		Price:      price,
		Time:       time.Now().UTC(),
		Closing:    true,
		PnL:        pnl.InexactFloat64(),
	})
	b.log.Debug().Str("order_id", orderID).Float64("price", price).Str("pnl", pnl.StringFixed(2)).Msg("paper close")
	return nil
}

// AccountInfo reports realized balance. Open orders are not marked, so equity
// equals balance between closes.
func (b *Broker) AccountInfo(ctx context.Context) (execution.AccountInfo, error) {
	snap := b.account.Snapshot(nil)
	return execution.AccountInfo{Balance: snap.Balance, Equity: snap.Equity}, nil
}
