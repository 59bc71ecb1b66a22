package tipping

// Kind classifies a terminal tip failure.
type Kind string

const (
	KindNone                  Kind = ""
	KindBusy                  Kind = "busy"
	KindTransport             Kind = "transport_error"
	KindDeclined              Kind = "declined"
	KindInvalidState          Kind = "invalid_state"
	KindInsufficientAllowance Kind = "insufficient_allowance"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindRetryExhausted        Kind = "retry_exhausted"
)

// Result is the discriminated outcome of a tip. The orchestrator never lets
// an error value escape; every failure path is converted to this shape.
type Result struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId,omitempty"`   // transaction or batch identifier
	Amount  string `json:"amount,omitempty"` // human-readable, e.g. "0.05 ETH"
	Kind    Kind   `json:"errorKind,omitempty"`
	Detail  string `json:"errorDetail,omitempty"`
}

func failure(kind Kind, detail string) Result {
	return Result{Kind: kind, Detail: detail}
}
