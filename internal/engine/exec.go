package engine

import (
	"context"
	"fmt"

	"barbot-go/internal/execution"
	"barbot-go/internal/metrics"
	"barbot-go/internal/position"
	"barbot-go/internal/risk"
	"barbot-go/internal/signal"
)

// executePending fills every queued signal of this instrument at this bar's open.
func (e *Engine) executePending(ctx context.Context, st *instrumentState, bar signal.Bar, index int) error {
	for _, sig := range st.drain() {
		if sig.AnchorIndex != index-1 {
			return signal.NewInputError(signal.ErrFutureSignal, bar.Instrument, bar.Ts,
				fmt.Sprintf("signal %s anchored at %d executed on bar %d", sig.ID, sig.AnchorIndex, index))
		}
		if err := e.execute(ctx, sig, bar, index); err != nil {
			return err
		}
	}
	return nil
}

// quote is the execution open moved by the spread against the trade.
func (e *Engine) quote(sig signal.Signal, open float64) float64 {
	spread := e.cfg.FillSpread
	if spread == 0 {
		spread = open * e.cfg.FillSpreadPct
	}
	return open + sig.Side.Sign()*spread
}

// fillEstimate adds the modelled ATR slippage to the quote.
func (e *Engine) fillEstimate(sig signal.Signal, quote float64) float64 {
	return quote + sig.Side.Sign()*e.cfg.FillSlippageATR*sig.ATR
}

// anchorStop keeps the signal's risk distance but measures it from the fill.
func anchorStop(sig signal.Signal, fill float64) float64 {
	dist := sig.RiskDistance()
	if dist <= 0 {
		return sig.Stop
	}
	return fill - sig.Side.Sign()*dist
}

func (e *Engine) execute(ctx context.Context, sig signal.Signal, bar signal.Bar, index int) error {
	quote := e.quote(sig, bar.Open)
	fill := e.fillEstimate(sig, quote)
	cand := risk.Candidate{
		Signal:       sig,
		BarIndex:     index,
		Ts:           bar.Ts,
		Open:         bar.Open,
		Quote:        quote,
		FillEstimate: fill,
		Stop:         anchorStop(sig, fill),
		UnitValue:    e.cfg.UnitValue,
		VolumeStep:   e.cfg.VolumeStep,
	}
	d := e.guards.Evaluate(cand, e.account.Snapshot())
	if !d.Accepted {
		e.reject(d, cand)
		return nil
	}

	id := e.positionID()
	// Broker calls are not interrupted by a stop request; each one is bounded by its own timeout.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BrokerTimeout)
	f, err := e.broker.PlaceOrder(bctx, execution.OrderRequest{
		PositionID: id,
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Volume:     d.Volume,
		Entry:      fill,
		Stop:       cand.Stop,
		Target:     sig.Target,
		UnitValue:  e.cfg.UnitValue,
		At:         bar.Ts,
	})
	cancel()
	if err != nil {
		d.Accepted = false
		d.Reason = brokerReason(err)
		d.Detail = err.Error()
		e.log.Warn().Err(err).Str("signal", sig.ID).Str("reason", d.Reason.String()).Msg("order not placed")
		e.reject(d, cand)
		return nil
	}

	volume := f.Volume
	if volume <= 0 {
		volume = d.Volume
	}
	stop := anchorStop(sig, f.Price)
	riskCash := position.RiskCash(f.Price, stop, volume, e.cfg.UnitValue)
	pos := position.Open(position.Params{
		ID:        id,
		Signal:    sig,
		Entry:     f.Price,
		Stop:      stop,
		RiskCash:  riskCash,
		Volume:    volume,
		UnitValue: e.cfg.UnitValue,
		OpenIndex: index,
		OpenedAt:  bar.Ts,
		BrokerID:  f.OrderID,
	})
	if err := e.account.OnOpen(sig.Instrument, riskCash, index); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.positions[sig.Instrument] = pos
	d.RiskCash = riskCash
	d.Volume = volume
	e.decide(d)
	metrics.OpenPositions.Set(float64(len(e.positions)))
	e.log.Info().Str("position", id).Str("instrument", sig.Instrument).Str("side", string(sig.Side)).
		Float64("entry", f.Price).Float64("stop", stop).Float64("volume", volume).Float64("risk", riskCash).Msg("position opened")
	return nil
}

func (e *Engine) positionID() string {
	e.nextID++
	return fmt.Sprintf("pos-%05d", e.nextID)
}

func brokerReason(err error) risk.RejectReason {
	switch execution.KindOf(err) {
	case execution.KindTimeout:
		return risk.RejectBrokerTimeout
	case execution.KindRejected:
		return risk.RejectBrokerRejected
	default:
		return risk.RejectBrokerUnavailable
	}
}

// reject records the decision and starts a paper-only shadow of the candidate.
func (e *Engine) reject(d risk.Decision, cand risk.Candidate) {
	e.decide(d)
	shadow := position.Open(position.Params{
		ID:        "shadow/" + cand.Signal.ID,
		Signal:    cand.Signal,
		Entry:     cand.FillEstimate,
		Stop:      cand.Stop,
		Volume:    d.Volume,
		UnitValue: e.cfg.UnitValue,
		OpenIndex: cand.BarIndex,
		OpenedAt:  cand.Ts,
	})
	e.shadow.TrackRejection(shadow, d.Reason.String())
	e.log.Debug().Str("signal", d.SignalID).Str("reason", d.Reason.String()).Str("detail", d.Detail).Msg("candidate rejected")
}

func (e *Engine) decide(d risk.Decision) {
	e.decisions = append(e.decisions, d)
	outcome := "accepted"
	if !d.Accepted {
		outcome = "rejected"
	}
	metrics.DecisionsTotal.WithLabelValues(outcome, d.Reason.String()).Inc()
	if e.recorder != nil {
		e.recorder.RecordDecision(d)
	}
}

// updatePositions drives the lifecycle for this instrument, then its shadows.
// Early exits start shadowing only after the shadow pass, from the next bar on.
func (e *Engine) updatePositions(ctx context.Context, bar signal.Bar, index int) error {
	var early *position.Position
	if pos, ok := e.positions[bar.Instrument]; ok {
		out := e.manager.Update(pos, bar, index)
		if out.StopMoved() {
			e.log.Debug().Str("position", pos.ID).Float64("from", out.StopBefore).Float64("to", out.StopAfter).
				Bool("breakeven", out.Breakeven).Int("tier", out.Tier).Msg("stop moved")
		}
		if out.Closed {
			if err := e.close(ctx, pos); err != nil {
				return err
			}
			if pos.CloseReason == position.CloseGiveback || pos.CloseReason == position.CloseDeadfish {
				early = pos
			}
		}
	}
	for _, so := range e.shadow.Update(bar, index) {
		if e.recorder != nil {
			e.recorder.RecordShadow(so)
		}
	}
	if early != nil {
		e.shadow.TrackExit(early)
	}
	return nil
}

func (e *Engine) close(ctx context.Context, pos *position.Position) error {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BrokerTimeout)
	defer cancel()
	if err := e.broker.CloseOrder(bctx, pos.BrokerOrderID, pos.ClosePrice); err != nil {
		// The book is closed at the lifecycle price either way; a failed close needs an operator.
		e.log.Error().Err(err).Str("position", pos.ID).Str("order_id", pos.BrokerOrderID).Msg("broker close failed")
	}
	pnl := pos.PnL()
	if err := e.account.OnClose(pos.Instrument, pnl); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if e.cfg.SyncEquity {
		if info, err := e.broker.AccountInfo(bctx); err == nil {
			e.account.SyncEquity(info.Equity)
		} else {
			e.log.Warn().Err(err).Msg("equity sync failed")
		}
	}
	delete(e.positions, pos.Instrument)

	trade := pos.Export()
	e.trades = append(e.trades, trade)
	if e.recorder != nil {
		e.recorder.RecordTrade(trade)
	}
	state := e.account.Snapshot()
	metrics.ClosesTotal.WithLabelValues(pos.CloseReason.String()).Inc()
	metrics.OpenPositions.Set(float64(len(e.positions)))
	metrics.Equity.Set(state.Equity)
	e.log.Info().Str("position", pos.ID).Str("instrument", pos.Instrument).Str("reason", pos.CloseReason.String()).
		Float64("exit", pos.ClosePrice).Float64("r", trade.ResultR).Float64("pnl", pnl).Float64("equity", state.Equity).Msg("position closed")
	return nil
}
