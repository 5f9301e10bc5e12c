package session

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorCode classifies a session validation or mutation failure
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "SESSION_NOT_FOUND"
	CodeExpired           ErrorCode = "SESSION_EXPIRED"
	CodeRevoked           ErrorCode = "SESSION_REVOKED"
	CodeSelectorDenied    ErrorCode = "SELECTOR_NOT_ALLOWED"
	CodeTargetDenied      ErrorCode = "TARGET_NOT_ALLOWED"
	CodeNonceInvalid      ErrorCode = "NONCE_INVALID"
	CodeBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"
	CodeVelocityExceeded  ErrorCode = "VELOCITY_EXCEEDED"
	CodeKillSwitch        ErrorCode = "KILL_SWITCH_ACTIVE"
	CodeInvalidOptions    ErrorCode = "INVALID_OPTIONS"
	CodeEncryptionFailure ErrorCode = "ENCRYPTION_FAILURE"
)

// Error is a typed session failure carrying the session id when known
type Error struct {
	Code      ErrorCode
	SessionID string
	Detail    string
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("session %s: %s: %s", e.SessionID, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func newError(code ErrorCode, sessionID, detail string) *Error {
	return &Error{Code: code, SessionID: sessionID, Detail: detail}
}

// CreateOptions parameterizes a new session key
type CreateOptions struct {
	Owner            string
	BudgetWei        *big.Int
	VelocityLimitWei *big.Int
	ExpiresAt        time.Time
	AllowedSelectors []string
	AllowedTargets   []common.Address
}

// PublicSession is the caller-visible view of a session. The private
// key material never appears here.
type PublicSession struct {
	ID               string         `json:"id"`
	Owner            string         `json:"owner"`
	Address          common.Address `json:"address"`
	BudgetWei        *big.Int       `json:"budgetWei"`
	SpentWei         *big.Int       `json:"spentWei"`
	VelocityLimitWei *big.Int       `json:"velocityLimitWei,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	ExpiresAt        time.Time      `json:"expiresAt"`
	Revoked          bool           `json:"revoked"`
	RevokedReason    string         `json:"revokedReason,omitempty"`
	PredecessorID    string         `json:"predecessorId,omitempty"`
}

// SignedOperation is one operation presented against a session
type SignedOperation struct {
	SessionID string
	Target    common.Address
	Selector  string
	ValueWei  *big.Int
	Nonce     uint64
}

// ValidationResult reports whether an operation may proceed and how
// much headroom remains.
type ValidationResult struct {
	Valid             bool
	Err               *Error
	RemainingBudget   *big.Int
	RemainingVelocity *big.Int
	ExpiresInMs       int64
}
