package storage

import "time"

// Tip paths.
const (
	PathPermission = "permission" // zero-confirmation spend
	PathDirect     = "direct"     // manually confirmed sub-account transfer
)

// TipReceipt records one terminal tip outcome.
type TipReceipt struct {
	ID        int64
	Creator   string
	AmountWei string
	Path      string
	TxID      string
	Success   bool
	ErrorKind string
	CreatedAt time.Time
}

// PermissionGrant records a spend permission granted during a session.
type PermissionGrant struct {
	ID           int64
	Owner        string
	Spender      string
	AllowanceWei string
	PeriodDays   int
	Status       string // granted, revoked
	CreatedAt    time.Time
}
