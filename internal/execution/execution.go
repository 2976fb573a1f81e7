// Package execution defines the broker contract and the live REST broker.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barbot-go/internal/signal"
)

// OrderRequest is a market entry with protective levels attached.
type OrderRequest struct {
	PositionID string      `json:"position_id"`
	Instrument string      `json:"instrument"`
	Side       signal.Side `json:"side"`
	Volume     float64     `json:"volume"`
	Entry      float64     `json:"entry"`
	Stop       float64     `json:"stop"`
	Target     float64     `json:"target,omitempty"`
	UnitValue  float64     `json:"unit_value"`
	At         time.Time   `json:"at"` // bar time the order is sent on
}

// Fill is the broker's confirmation of an entry.
type Fill struct {
	OrderID    string      `json:"order_id"`
	PositionID string      `json:"position_id"`
	Instrument string      `json:"instrument"`
	Side       signal.Side `json:"side"`
	Volume     float64     `json:"volume"`
	Price      float64     `json:"price"`
	Time       time.Time   `json:"time"`
	Closing    bool        `json:"closing,omitempty"`
	PnL        float64     `json:"pnl,omitempty"`
}

// AccountInfo reports the broker-side balance and equity.
type AccountInfo struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

// Broker is implemented by the paper broker and the live REST broker. Every call
// is bounded by ctx; a failed PlaceOrder means nothing was opened.
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	CloseOrder(ctx context.Context, orderID string, price float64) error
	AccountInfo(ctx context.Context) (AccountInfo, error)
}

// ErrorKind classifies broker failures.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota + 1
	KindUnavailable
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BrokerError wraps a failed broker call.
type BrokerError struct {
	Kind   ErrorKind
	Broker string
	Op     string
	Err    error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Broker, e.Op, e.Kind, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// KindOf extracts the failure class, treating context deadlines as timeouts and
// anything unclassified as unavailable.
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}
