package domain

// HedgeMode is the urgency tier of a hedge, chosen by seconds to expiry.
type HedgeMode string

const (
	HedgeModeNormal   HedgeMode = "normal"
	HedgeModeUrgent   HedgeMode = "urgent"
	HedgeModePanic    HedgeMode = "panic"
	HedgeModeSurvival HedgeMode = "survival"
)

// HedgeAttempt is one step of an escalation sequence.
type HedgeAttempt struct {
	Shares     float64
	Price      float64
	Mode       HedgeMode
	RetryIndex int
}

// EscalationRequest is the shared contract of every hedge escalator.
type EscalationRequest struct {
	Slug             string
	Outcome          Outcome
	TargetShares     float64
	InitialPrice     float64
	SecondsRemaining float64
	PairCostOther    float64 // avg cost of the opposite side, 0 if unknown
	Reason           string
}

// EscalationResult reports how an escalation ended.
type EscalationResult struct {
	OK           bool
	FilledShares float64
	AvgPrice     float64
	OrderID      string
	Attempts     int
	ErrorCode    string
}
