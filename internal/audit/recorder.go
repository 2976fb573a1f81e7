// Package audit records engine events and turns a finished run into a summary.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"barbot-go/internal/position"
	"barbot-go/internal/risk"

	"github.com/rs/zerolog"
)

// Kind tags an audit envelope.
type Kind string

const (
	KindDecision Kind = "decision"
	KindTrade    Kind = "trade"
	KindShadow   Kind = "shadow"
	KindSummary  Kind = "summary"
)

// Event is the envelope written to every sink. Exactly one payload is set.
type Event struct {
	Kind     Kind                    `json:"kind"`
	Ts       time.Time               `json:"ts"`
	Decision *risk.Decision          `json:"decision,omitempty"`
	Trade    *position.Trade         `json:"trade,omitempty"`
	Shadow   *position.ShadowOutcome `json:"shadow,omitempty"`
	Summary  *Summary                `json:"summary,omitempty"`
}

// Key is the partition key for brokers that care: the instrument when there is one.
func (e Event) Key() string {
	switch {
	case e.Decision != nil:
		return e.Decision.Instrument
	case e.Trade != nil:
		return e.Trade.Instrument
	case e.Shadow != nil:
		return e.Shadow.Instrument
	}
	return string(e.Kind)
}

// DecisionEvent wraps a guard decision.
func DecisionEvent(d risk.Decision) Event {
	return Event{Kind: KindDecision, Ts: d.Ts, Decision: &d}
}

// TradeEvent wraps a closed trade.
func TradeEvent(t position.Trade) Event {
	return Event{Kind: KindTrade, Ts: t.ClosedAt, Trade: &t}
}

// ShadowEvent wraps a resolved shadow.
func ShadowEvent(s position.ShadowOutcome) Event {
	return Event{Kind: KindShadow, Shadow: &s}
}

// Sink consumes envelopes.
type Sink interface {
	Write(Event)
	Close() error
}

// Recorder adapts a Sink to the engine's recorder hooks.
type Recorder struct {
	sink Sink
}

// NewRecorder wraps sink.
func NewRecorder(sink Sink) *Recorder { return &Recorder{sink: sink} }

func (r *Recorder) RecordDecision(d risk.Decision)        { r.sink.Write(DecisionEvent(d)) }
func (r *Recorder) RecordTrade(t position.Trade)          { r.sink.Write(TradeEvent(t)) }
func (r *Recorder) RecordShadow(s position.ShadowOutcome) { r.sink.Write(ShadowEvent(s)) }

// RecordSummary writes the terminal summary record.
func (r *Recorder) RecordSummary(s Summary) {
	r.sink.Write(Event{Kind: KindSummary, Ts: s.End, Summary: &s})
}

// Close closes the sink.
func (r *Recorder) Close() error { return r.sink.Close() }

// JSONLRecorder appends envelopes as JSON lines for later analysis.
type JSONLRecorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	log    zerolog.Logger
	failed int
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
// Write failures are logged on log and counted, never returned to the engine.
func NewJSONLRecorder(path string, log zerolog.Logger) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
		log:  log.With().Str("component", "audit_jsonl").Str("path", path).Logger(),
	}, nil
}

// Write encodes a single envelope.
func (r *JSONLRecorder) Write(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.enc.Encode(e); err != nil {
		r.failed++
		r.log.Warn().Err(err).Str("kind", string(e.Kind)).Int("failed", r.failed).Msg("audit write failed")
	}
}

// Failed reports how many envelopes could not be written.
func (r *JSONLRecorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Multi fans every envelope out to several sinks.
type Multi []Sink

func (m Multi) Write(e Event) {
	for _, s := range m {
		s.Write(e)
	}
}

// Close closes every sink and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
