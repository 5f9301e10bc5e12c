package reward

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ActionKind classifies a user action submitted for credit
type ActionKind string

const (
	ActionSignalReport   ActionKind = "signal_report"
	ActionOutcomeLabel   ActionKind = "outcome_label"
	ActionTrapReport     ActionKind = "trap_report"
	ActionMetadataReview ActionKind = "metadata_review"
)

// Action is one user submission awaiting verification
type Action struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Kind        ActionKind `json:"kind"`
	Evidence    []byte     `json:"evidence"`
	SubmittedAt time.Time  `json:"submittedAt"`
}

// EvidenceHash returns the SHA-256 hex digest of the action's evidence
func (a Action) EvidenceHash() string {
	sum := sha256.Sum256(a.Evidence)
	return hex.EncodeToString(sum[:])
}

// Verification is an oracle's verdict on an action
type Verification struct {
	Verified     bool    `json:"verified"`
	Confidence   float64 `json:"confidence"`
	EvidenceHash string  `json:"evidenceHash"`
	Reason       string  `json:"reason,omitempty"`
}

// Tier is a reputation band. Multipliers scale base points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// TierMultiplier returns the reward multiplier for a tier
func TierMultiplier(t Tier) float64 {
	switch t {
	case TierSilver:
		return 1.25
	case TierGold:
		return 1.5
	case TierPlatinum:
		return 2.0
	default:
		return 1.0
	}
}

// TierForScore is the step function mapping reputation score to tier
func TierForScore(score float64) Tier {
	switch {
	case score >= 900:
		return TierPlatinum
	case score >= 700:
		return TierGold
	case score >= 400:
		return TierSilver
	default:
		return TierBronze
	}
}

// basePoints per action kind
var basePoints = map[ActionKind]int64{
	ActionSignalReport:   10,
	ActionOutcomeLabel:   15,
	ActionTrapReport:     50,
	ActionMetadataReview: 5,
}

// PenaltyReason classifies a penalty
type PenaltyReason string

const (
	PenaltyRejected   PenaltyReason = "rejected"
	PenaltyFraudulent PenaltyReason = "fraudulent"
)

// Penalty is one row of the penalty table
type Penalty struct {
	Points     int64
	Reputation float64
	Suspension time.Duration
}

// penaltyTable maps reason to its sanction. Fraud suspends.
var penaltyTable = map[PenaltyReason]Penalty{
	PenaltyRejected:   {Points: 5, Reputation: 10},
	PenaltyFraudulent: {Points: 100, Reputation: 150, Suspension: 7 * 24 * time.Hour},
}

// RewardRecord is one append-only ledger entry
type RewardRecord struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"userId"`
	ActionID     string     `json:"actionId"`
	Kind         ActionKind `json:"kind"`
	Points       int64      `json:"points"` // negative for penalties
	Tier         Tier       `json:"tier"`
	EvidenceHash string     `json:"evidenceHash"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Reputation is a user's standing, recomputed on every change
type Reputation struct {
	UserID           string     `json:"userId"`
	Score            float64    `json:"score"`
	Tier             Tier       `json:"tier"`
	TotalPoints      int64      `json:"totalPoints"`
	VerifiedCount    int64      `json:"verifiedCount"`
	RejectedCount    int64      `json:"rejectedCount"`
	PenaltyCount     int64      `json:"penaltyCount"`
	AccountCreatedAt time.Time  `json:"accountCreatedAt"`
	SuspendedUntil   *time.Time `json:"suspendedUntil,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Suspended reports whether the user is currently suspended
func (r Reputation) Suspended(now time.Time) bool {
	return r.SuspendedUntil != nil && now.Before(*r.SuspendedUntil)
}

// ComputeScore derives the reputation score from counts, accuracy,
// account age, and penalties. The result is clamped to [0, 1000].
func ComputeScore(r Reputation, now time.Time) float64 {
	total := r.VerifiedCount + r.RejectedCount
	verificationRate := 0.0
	if total > 0 {
		verificationRate = float64(r.VerifiedCount) / float64(total)
	}

	ageDays := now.Sub(r.AccountCreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageBonus := ageDays
	if ageBonus > 100 {
		ageBonus = 100
	}

	score := float64(r.TotalPoints)*0.5 +
		verificationRate*300 +
		ageBonus -
		float64(r.PenaltyCount)*25

	switch {
	case score < 0:
		return 0
	case score > 1000:
		return 1000
	}
	return score
}
