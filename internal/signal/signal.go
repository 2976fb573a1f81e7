// Package signal standardizes the bar and signal payloads shared between data ingestion, strategies and the engine.
package signal

import (
	"fmt"
	"time"
)

// Side is the direction of a trade intent.
type Side string

const (
	// Long profits when price rises.
	Long Side = "LONG"
	// Short profits when price falls.
	Short Side = "SHORT"
)

// Sign returns +1 for longs and -1 for shorts.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Valid reports whether the side is one of the known directions.
func (s Side) Valid() bool { return s == Long || s == Short }

// StrategyTag names the rule-set that produced a signal.
type StrategyTag string

const (
	MeanReversion StrategyTag = "mean_reversion"
	Trend         StrategyTag = "trend"
	Breakout      StrategyTag = "breakout"
)

// Bar is one immutable OHLCV candle for a single instrument.
type Bar struct {
	Instrument string    `json:"instrument"`
	Ts         time.Time `json:"ts"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Validate rejects bars with missing or inconsistent price fields.
func (b Bar) Validate() error {
	if b.Instrument == "" {
		return newInputError(ErrMissingField, b, "instrument is empty")
	}
	if b.Ts.IsZero() {
		return newInputError(ErrMissingField, b, "timestamp is zero")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return newInputError(ErrMissingField, b, "open/high/low/close must be positive")
	}
	if b.High < b.Low || b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return newInputError(ErrMissingField, b, fmt.Sprintf("inconsistent range o=%g h=%g l=%g c=%g", b.Open, b.High, b.Low, b.Close))
	}
	return nil
}

// Signal is a candidate trade intent anchored to a confirmed bar.
// It never carries data from bars after AnchorIndex.
type Signal struct {
	ID          string      `json:"id"`
	Instrument  string      `json:"instrument"`
	Side        Side        `json:"side"`
	AnchorIndex int         `json:"anchor_index"`
	AnchorTs    time.Time   `json:"anchor_ts"`
	AnchorPrice float64     `json:"anchor_price"` // close of the anchor bar
	Stop        float64     `json:"stop"`
	Target      float64     `json:"target,omitempty"` // 0 when the rule-set has no target
	ATR         float64     `json:"atr"`
	Strategy    StrategyTag `json:"strategy"`
	RR          float64     `json:"rr"`
}

// RiskDistance is the absolute distance between anchor price and stop.
func (s Signal) RiskDistance() float64 {
	d := s.AnchorPrice - s.Stop
	if d < 0 {
		return -d
	}
	return d
}

// SignalID builds the deterministic identifier used for audit and dedup.
func SignalID(instrument string, anchor time.Time, side Side) string {
	return fmt.Sprintf("%s@%d/%s", instrument, anchor.Unix(), side)
}

// Source is the contract for signal generators. Generate only sees the truncated
// window, so every emitted signal is anchored at or before window.LastIndex().
type Source interface {
	Name() string
	Generate(window Window, instrument string) []Signal
}
