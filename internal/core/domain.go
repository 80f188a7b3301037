package core

import (
	"errors"
	"time"
)

// Amount tracker defaults.
const (
	DefaultAirtime    int64 = 2468
	DefaultCommission int64 = 4567
	BalanceStep       int64 = 100
)

// Activity counter parameters.
const (
	BaseCount      int64 = 347
	CountIncrement int64 = 20
	CountInterval        = 30 * time.Minute
)

// Transaction feed parameters.
const (
	BatchSize   = 10
	FeedTTL     = 3 * time.Minute
	CodePrefix  = "T"
	CodeLength  = 10
	CodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	PhonePrefix = "+2547"
	PhoneSuffix = "..."
)

// AllowedAmounts is the fixed set mock transaction amounts are drawn from.
var AllowedAmounts = []int{55, 20, 19, 49, 99, 47, 299, 699, 23, 50, 21, 51, 110, 249, 999}

// Persistence keys. The first group lives in the durable per-profile store,
// SessionGuardKey in the session-scoped store.
const (
	KeyAirtime      = "dash_airtime"
	KeyCommission   = "dash_comm"
	KeyHidden       = "dash_hidden"
	KeyStartOfDay   = "dash_startOfDay"
	KeyFeed         = "dash_mpesa"
	KeyFeedUpdated  = "dash_mpesa_updated"
	SessionGuardKey = "dash_incremented_this_session"
)

type (
	// Balances holds the two tracked amounts.
	Balances struct {
		Airtime    int64 `json:"airtime"`
		Commission int64 `json:"commission"`
	}

	// TransactionRecord is one mock mobile-money transaction.
	TransactionRecord struct {
		Code        string    `json:"code"`
		Amount      int       `json:"amount"`
		Phone       string    `json:"phone"`
		GeneratedAt time.Time `json:"time"`
	}

	// TransactionBatch is the unit the feed persists and replaces.
	TransactionBatch struct {
		Items     []TransactionRecord `json:"items"`
		UpdatedAt time.Time           `json:"updated_at"`
	}

	// Scope identifies whose state a request touches: the browser profile
	// (durable store namespace) and the browser session (session store namespace).
	Scope struct {
		ProfileID string
		SessionID string
	}
)

var (
	ErrMalformedValue = errors.New("malformed persisted value")
	ErrInvalidBatch   = errors.New("invalid transaction batch")
	ErrInvalidScope   = errors.New("invalid scope")
)

// Validate reports whether the batch holds exactly BatchSize records.
func (b TransactionBatch) Validate() error {
	if len(b.Items) != BatchSize {
		return ErrInvalidBatch
	}
	if b.UpdatedAt.IsZero() {
		return ErrInvalidBatch
	}
	return nil
}

// Codes returns the record codes in order.
func (b TransactionBatch) Codes() []string {
	out := make([]string, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Code
	}
	return out
}

func (s Scope) Validate() error {
	if s.ProfileID == "" || s.SessionID == "" {
		return ErrInvalidScope
	}
	return nil
}

// IsAllowedAmount reports whether v belongs to AllowedAmounts.
func IsAllowedAmount(v int) bool {
	for _, a := range AllowedAmounts {
		if a == v {
			return true
		}
	}
	return false
}

// IsValidCode reports whether code is CodePrefix followed by CodeLength-1
// characters from CodeCharset.
func IsValidCode(code string) bool {
	if len(code) != CodeLength || code[:1] != CodePrefix {
		return false
	}
	for i := 1; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
