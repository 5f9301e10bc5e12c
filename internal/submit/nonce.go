package submit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// NonceFetcher resolves the on-chain pending nonce for an account. The
// RPC client satisfies it via GetTransactionCount.
type NonceFetcher func(ctx context.Context, account common.Address) (uint64, error)

type slotState int

const (
	slotReserved slotState = iota
	slotConfirmed
	slotReleased
)

type nonceSlot struct {
	state     slotState
	expiresAt time.Time
	txHash    common.Hash
}

type accountNonces struct {
	base  uint64 // on-chain pending nonce at first reservation
	slots map[uint64]*nonceSlot
}

// NonceManager hands out per-account monotone nonces. Reservations
// expire after a timeout and their slots become reusable; a nonce may
// only confirm once every lower slot is confirmed or released.
type NonceManager struct {
	fetch          NonceFetcher
	reserveTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger

	mu       sync.Mutex
	accounts map[common.Address]*accountNonces
}

// NewNonceManager creates a nonce manager over the given fetcher
func NewNonceManager(fetch NonceFetcher, reserveTimeout time.Duration) *NonceManager {
	if reserveTimeout <= 0 {
		reserveTimeout = 30 * time.Second
	}
	return &NonceManager{
		fetch:          fetch,
		reserveTimeout: reserveTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		log:            log.With().Str("component", "nonce-manager").Logger(),
		accounts:       make(map[common.Address]*accountNonces),
	}
}

// Reserve atomically claims the lowest available nonce for the account.
// Expired and released slots are reclaimed before the counter extends.
func (m *NonceManager) Reserve(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.accounts[account]
	if !ok {
		base, err := m.fetch(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch base nonce for %s: %w", account.Hex(), err)
		}
		state = &accountNonces{base: base, slots: make(map[uint64]*nonceSlot)}
		m.accounts[account] = state
	}

	now := m.now()
	expiry := now.Add(m.reserveTimeout)

	// Reclaim the lowest reusable slot first.
	for _, nonce := range sortedNonces(state.slots) {
		slot := state.slots[nonce]
		reusable := slot.state == slotReleased ||
			(slot.state == slotReserved && !now.Before(slot.expiresAt))
		if reusable {
			if slot.state == slotReserved {
				metrics.RecordNonceEvent("expired")
			}
			slot.state = slotReserved
			slot.expiresAt = expiry
			slot.txHash = common.Hash{}
			metrics.RecordNonceEvent("reserved")
			return nonce, nil
		}
	}

	nonce := state.base + uint64(len(state.slots))
	state.slots[nonce] = &nonceSlot{state: slotReserved, expiresAt: expiry}
	metrics.RecordNonceEvent("reserved")
	return nonce, nil
}

// Confirm binds a transaction hash to a reserved nonce. It fails while
// any lower slot is still reserved, so confirmations reach the chain in
// order.
func (m *NonceManager) Confirm(account common.Address, nonce uint64, txHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.accounts[account]
	if !ok {
		return fmt.Errorf("no reservations for account %s", account.Hex())
	}
	slot, ok := state.slots[nonce]
	if !ok || slot.state != slotReserved {
		return fmt.Errorf("nonce %d is not reserved for %s", nonce, account.Hex())
	}

	for lower, lowerSlot := range state.slots {
		if lower < nonce && lowerSlot.state == slotReserved {
			return fmt.Errorf("cannot confirm nonce %d: nonce %d is still pending", nonce, lower)
		}
	}

	slot.state = slotConfirmed
	slot.txHash = txHash
	metrics.RecordNonceEvent("confirmed")
	m.log.Debug().
		Str("account", account.Hex()).
		Uint64("nonce", nonce).
		Str("tx_hash", txHash.Hex()).
		Msg("Nonce confirmed")
	return nil
}

// Release reopens a reserved slot after a failed submission
func (m *NonceManager) Release(account common.Address, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.accounts[account]
	if !ok {
		return fmt.Errorf("no reservations for account %s", account.Hex())
	}
	slot, ok := state.slots[nonce]
	if !ok || slot.state != slotReserved {
		return fmt.Errorf("nonce %d is not reserved for %s", nonce, account.Hex())
	}

	slot.state = slotReleased
	metrics.RecordNonceEvent("released")
	return nil
}

func sortedNonces(slots map[uint64]*nonceSlot) []uint64 {
	out := make([]uint64, 0, len(slots))
	for nonce := range slots {
		out = append(out, nonce)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
