package risk

import "fmt"

// RejectReason enumerates every way a candidate can fail admission.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectDuplicateInstrument
	RejectMaxPositions
	RejectOpenRiskLimit
	RejectDailyDrawdown
	RejectTotalDrawdown
	RejectDailyTradeCap
	RejectCooldown
	RejectSlippage
	RejectZeroVolume
	RejectBrokerTimeout
	RejectBrokerRejected
	RejectBrokerUnavailable
)

// AllRejectReasons lists every non-empty reason in declaration order.
var AllRejectReasons = []RejectReason{
	RejectDuplicateInstrument,
	RejectMaxPositions,
	RejectOpenRiskLimit,
	RejectDailyDrawdown,
	RejectTotalDrawdown,
	RejectDailyTradeCap,
	RejectCooldown,
	RejectSlippage,
	RejectZeroVolume,
	RejectBrokerTimeout,
	RejectBrokerRejected,
	RejectBrokerUnavailable,
}

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectDuplicateInstrument:
		return "duplicate_instrument"
	case RejectMaxPositions:
		return "max_positions"
	case RejectOpenRiskLimit:
		return "open_risk_limit"
	case RejectDailyDrawdown:
		return "daily_dd_limit"
	case RejectTotalDrawdown:
		return "total_dd_limit"
	case RejectDailyTradeCap:
		return "max_daily_trades"
	case RejectCooldown:
		return "cooldown"
	case RejectSlippage:
		return "slippage_too_high"
	case RejectZeroVolume:
		return "zero_volume"
	case RejectBrokerTimeout:
		return "broker_timeout"
	case RejectBrokerRejected:
		return "broker_rejected"
	case RejectBrokerUnavailable:
		return "broker_unavailable"
	default:
		return fmt.Sprintf("reject(%d)", int(r))
	}
}

// MarshalText renders the reason as its snake_case tag.
func (r RejectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a snake_case tag back into a reason.
func (r *RejectReason) UnmarshalText(text []byte) error {
	s := string(text)
	if s == RejectNone.String() {
		*r = RejectNone
		return nil
	}
	for _, candidate := range AllRejectReasons {
		if candidate.String() == s {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown reject reason %q", s)
}
