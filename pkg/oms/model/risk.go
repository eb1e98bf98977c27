package model

import "time"

// RejectReason is the code attached to a rejected order.
type RejectReason string

const (
	ReasonNone               RejectReason = ""
	ReasonOrderSizeLimit     RejectReason = "order_size_limit"
	ReasonPositionLimit      RejectReason = "position_limit"
	ReasonConcentrationLimit RejectReason = "concentration_limit"
	ReasonBuyingPower        RejectReason = "buying_power"
	ReasonVaRLimit           RejectReason = "var_limit"
	ReasonRiskTimeout        RejectReason = "risk_timeout"
	ReasonRiskUnavailable    RejectReason = "risk_unavailable"
	ReasonVenueRejected      RejectReason = "venue_rejected"
)

// IsInfrastructure reports whether the reason comes from a failed check rather than a limit breach.
func (r RejectReason) IsInfrastructure() bool {
	return r == ReasonRiskTimeout || r == ReasonRiskUnavailable
}

// RiskCheckResult is the synchronous answer of the risk gate.
type RiskCheckResult struct {
	Approved bool
	Reason   RejectReason
	Elapsed  time.Duration
}
