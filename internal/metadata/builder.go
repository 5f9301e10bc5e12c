package metadata

import (
	"fmt"
	"time"

	"github.com/nadpilot/nadpilot/internal/chain"
)

// TokenMetadataVersion is one persisted descriptor revision. Versions
// form a chain through PreviousCID; every version past the first must
// name its predecessor.
type TokenMetadataVersion struct {
	ID          int64                  `json:"id"`
	Token       string                 `json:"token"`
	ChainID     int64                  `json:"chainId"`
	Version     int                    `json:"version"`
	CID         string                 `json:"cid"`
	PreviousCID string                 `json:"previousCid,omitempty"`
	Body        map[string]interface{} `json:"body"`
	Integrity   string                 `json:"integrity"`
	Patch       []PatchOp              `json:"patch,omitempty"`
	Milestone   Milestone              `json:"milestone"`
	PinResults  []PinResult            `json:"pinResults,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// BuildInput is the on-chain state a descriptor is built from
type BuildInput struct {
	Token     string
	ChainID   int64
	Name      string
	Symbol    string
	Pool      *chain.PoolLiquidity
	Holders   *chain.HolderAnalysis
	CurvePct  float64
	Graduated bool
	Status    string
	Milestone Milestone
}

// Builder constructs descriptor bodies from on-chain observations
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a descriptor builder
func NewBuilder() *Builder {
	return &Builder{now: func() time.Time { return time.Now().UTC() }}
}

// Build produces the canonical descriptor body for a token at its
// current milestone. The integrity field is sealed last.
func (b *Builder) Build(in BuildInput) (map[string]interface{}, error) {
	if in.Token == "" {
		return nil, fmt.Errorf("descriptor requires a token address")
	}

	body := map[string]interface{}{
		"schema":    "nadpilot/token-metadata/v1",
		"token":     in.Token,
		"chainId":   in.ChainID,
		"name":      in.Name,
		"symbol":    in.Symbol,
		"status":    in.Status,
		"graduated": in.Graduated,
		"curve": map[string]interface{}{
			"progressPct": in.CurvePct,
		},
		"milestone": map[string]interface{}{
			"kind":      string(in.Milestone.Kind),
			"threshold": in.Milestone.Threshold,
		},
		"updatedAt": b.now().Format(time.RFC3339),
	}

	if in.Pool != nil {
		body["pool"] = map[string]interface{}{
			"address":       in.Pool.Pool,
			"bondingCurve":  in.Pool.BondingCurve,
			"reserveNative": in.Pool.ReserveNative,
			"reserveToken":  in.Pool.ReserveToken,
			"feeBps":        in.Pool.FeeBps,
		}
	}
	if in.Holders != nil {
		body["holders"] = map[string]interface{}{
			"count":             in.Holders.HolderCount,
			"creatorPct":        in.Holders.CreatorPct,
			"poolPct":           in.Holders.PoolPct,
			"concentrationRisk": in.Holders.ConcentrationRisk,
		}
	}

	canonical, err := CanonicalBody(body)
	if err != nil {
		return nil, err
	}
	if err := SealIntegrity(canonical); err != nil {
		return nil, err
	}
	return canonical, nil
}
