package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"barbot-go/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// LiveConfig configures the REST broker.
type LiveConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// LiveBroker sends orders to a JSON REST gateway. Each call is bounded by the
// configured timeout, paced by a token bucket and guarded by a circuit breaker.
// Calls are never retried here: a failure resolves the bar as "not sent".
type LiveBroker struct {
	base    string
	apiKey  string
	timeout time.Duration
	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewLiveBroker applies defaults and builds the client.
func NewLiveBroker(cfg LiveConfig, log zerolog.Logger) *LiveBroker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	lb := &LiveBroker{
		base:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		hc:      &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log.With().Str("component", "live_broker").Logger(),
	}
	failures := cfg.BreakerFailures
	lb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "live-broker",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) == KindRejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lb.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
		},
	})
	return lb
}

// Name identifies the broker in logs and metrics.
func (lb *LiveBroker) Name() string { return "live" }

type placeBody struct {
	ClientOrderID string  `json:"client_order_id"`
	Reference     string  `json:"reference,omitempty"`
	Instrument    string  `json:"instrument"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	Stop          float64 `json:"stop"`
	Target        float64 `json:"target,omitempty"`
}

type placeReply struct {
	OrderID string  `json:"order_id"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	Time    int64   `json:"time"` // unix millis
}

// PlaceOrder sends a market entry. The client order ID is fresh per call so a
// gateway can drop duplicates.
func (lb *LiveBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	metrics.OrdersTotal.WithLabelValues(lb.Name(), req.Instrument, string(req.Side)).Inc()
	body := placeBody{
		ClientOrderID: uuid.NewString(),
		Instrument:    req.Instrument,
		Side:          string(req.Side),
		Volume:        req.Volume,
		Stop:          req.Stop,
		Target:        req.Target,
		Reference:     req.PositionID,
	}
	var reply placeReply
	if err := lb.call(ctx, "place", http.MethodPost, "/orders", body, &reply); err != nil {
		return Fill{}, err
	}
	if reply.OrderID == "" || reply.Price <= 0 {
		return Fill{}, lb.fail("place", KindRejected, fmt.Errorf("incomplete fill %+v", reply))
	}
	volume := reply.Volume
	if volume <= 0 {
		volume = req.Volume
	}
	ts := time.Now().UTC()
	if reply.Time > 0 {
		ts = time.UnixMilli(reply.Time).UTC()
	}
	lb.log.Info().Str("instrument", req.Instrument).Str("order_id", reply.OrderID).Float64("price", reply.Price).Float64("volume", volume).Msg("order filled")
	return Fill{
		OrderID:    reply.OrderID,
		PositionID: req.PositionID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Volume:     volume,
		Price:      reply.Price,
		Time:       ts,
	}, nil
}

// CloseOrder flattens the position opened by orderID.
func (lb *LiveBroker) CloseOrder(ctx context.Context, orderID string, price float64) error {
	body := map[string]float64{"price": price}
	return lb.call(ctx, "close", http.MethodPost, "/orders/"+orderID+"/close", body, nil)
}

// AccountInfo returns the gateway's balance and equity.
func (lb *LiveBroker) AccountInfo(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	err := lb.call(ctx, "account", http.MethodGet, "/account", nil, &info)
	return info, err
}

func (lb *LiveBroker) call(ctx context.Context, op, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, lb.timeout)
	defer cancel()

	if err := lb.limiter.Wait(ctx); err != nil {
		return lb.fail(op, KindTimeout, err)
	}
	_, err := lb.breaker.Execute(func() (interface{}, error) {
		return nil, lb.do(ctx, op, method, path, in, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return lb.fail(op, KindUnavailable, err)
	}
	var be *BrokerError
	if errors.As(err, &be) {
		metrics.BrokerErrorsTotal.WithLabelValues(lb.Name(), be.Kind.String()).Inc()
		return be
	}
	return lb.fail(op, KindOf(err), err)
}

func (lb *LiveBroker) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &BrokerError{Kind: KindRejected, Broker: lb.Name(), Op: op, Err: err}
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, lb.base+path, reader)
	if err != nil {
		return &BrokerError{Kind: KindRejected, Broker: lb.Name(), Op: op, Err: err}
	}
	req.Header.Set("User-Agent", "barbot/live")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if lb.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+lb.apiKey)
	}

	res, err := lb.hc.Do(req)
	if err != nil {
		kind := KindUnavailable
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		return &BrokerError{Kind: kind, Broker: lb.Name(), Op: op, Err: err}
	}
	defer res.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	switch {
	case res.StatusCode >= 500:
		return &BrokerError{Kind: KindUnavailable, Broker: lb.Name(), Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))}
	case res.StatusCode >= 300:
		return &BrokerError{Kind: KindRejected, Broker: lb.Name(), Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &BrokerError{Kind: KindRejected, Broker: lb.Name(), Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (lb *LiveBroker) fail(op string, kind ErrorKind, err error) error {
	metrics.BrokerErrorsTotal.WithLabelValues(lb.Name(), kind.String()).Inc()
	lb.log.Warn().Err(err).Str("op", op).Str("kind", kind.String()).Msg("broker call failed")
	return &BrokerError{Kind: kind, Broker: lb.Name(), Op: op, Err: err}
}
