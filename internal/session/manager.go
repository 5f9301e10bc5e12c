package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// sessionKey is the manager-internal session state. Key material is
// held encrypted; decryption happens only inside Sign.
type sessionKey struct {
	public        PublicSession
	encryptedKey  []byte
	nonce         []byte
	selectors     map[string]struct{}
	targets       map[common.Address]struct{}
	nonceCounter  uint64
	velocity      *velocityWindow
	velocityLimit *big.Int
}

// Manager owns every session key in the process. Plaintext private keys
// never leave it.
type Manager struct {
	cfg       config.SessionConfig
	masterKey []byte
	bus       *events.Bus
	now       func() time.Time
	log       zerolog.Logger

	mu         sync.Mutex
	sessions   map[string]*sessionKey
	killSwitch bool
}

// NewManager creates a session manager. The master key encrypts session
// key material at rest and must be 32 bytes (AES-256).
func NewManager(cfg config.SessionConfig, masterKeyHex string, bus *events.Bus) (*Manager, error) {
	masterKey, err := hex.DecodeString(strings.TrimPrefix(masterKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode session master key: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("session master key must be 32 bytes, got %d", len(masterKey))
	}
	if cfg.MaxTTLHours <= 0 {
		cfg.MaxTTLHours = 24
	}
	if cfg.VelocityWindowMS <= 0 {
		cfg.VelocityWindowMS = 60_000
	}
	return &Manager{
		cfg:       cfg,
		masterKey: masterKey,
		bus:       bus,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "session-manager").Logger(),
		sessions:  make(map[string]*sessionKey),
	}, nil
}

func (m *Manager) minBudget() *big.Int {
	if m.cfg.MinBudgetWei == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(m.cfg.MinBudgetWei, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// Create derives a fresh secp256k1 key, encrypts it at rest, and
// returns the session's public view.
func (m *Manager) Create(opts CreateOptions) (PublicSession, error) {
	now := m.now()

	if opts.BudgetWei == nil || opts.BudgetWei.Sign() <= 0 {
		return PublicSession{}, newError(CodeInvalidOptions, "", "budget must be positive")
	}
	if opts.BudgetWei.Cmp(m.minBudget()) < 0 {
		return PublicSession{}, newError(CodeInvalidOptions, "",
			fmt.Sprintf("budget %s below minimum %s", opts.BudgetWei, m.minBudget()))
	}
	maxExpiry := now.Add(time.Duration(m.cfg.MaxTTLHours) * time.Hour)
	if opts.ExpiresAt.IsZero() || opts.ExpiresAt.After(maxExpiry) {
		return PublicSession{}, newError(CodeInvalidOptions, "",
			fmt.Sprintf("expiry must be set and within %dh", m.cfg.MaxTTLHours))
	}
	if opts.ExpiresAt.Before(now) {
		return PublicSession{}, newError(CodeInvalidOptions, "", "expiry is in the past")
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return PublicSession{}, fmt.Errorf("failed to generate session key: %w", err)
	}
	encrypted, nonce, err := m.encrypt(crypto.FromECDSA(priv))
	if err != nil {
		return PublicSession{}, newError(CodeEncryptionFailure, "", err.Error())
	}

	id := uuid.New().String()
	sk := &sessionKey{
		public: PublicSession{
			ID:               id,
			Owner:            opts.Owner,
			Address:          crypto.PubkeyToAddress(priv.PublicKey),
			BudgetWei:        new(big.Int).Set(opts.BudgetWei),
			SpentWei:         new(big.Int),
			VelocityLimitWei: cloneBig(opts.VelocityLimitWei),
			CreatedAt:        now,
			ExpiresAt:        opts.ExpiresAt,
		},
		encryptedKey:  encrypted,
		nonce:         nonce,
		selectors:     toSet(opts.AllowedSelectors),
		targets:       toAddressSet(opts.AllowedTargets),
		velocity:      newVelocityWindow(time.Duration(m.cfg.VelocityWindowMS) * time.Millisecond),
		velocityLimit: cloneBig(opts.VelocityLimitWei),
	}

	m.mu.Lock()
	m.sessions[id] = sk
	active := m.activeCountLocked()
	m.mu.Unlock()

	metrics.RecordSessionIssued()
	metrics.UpdateActiveSessionKeys(active)
	m.log.Info().
		Str("session_id", id).
		Str("address", sk.public.Address.Hex()).
		Str("budget_wei", opts.BudgetWei.String()).
		Time("expires_at", opts.ExpiresAt).
		Msg("Session key issued")

	return sk.public, nil
}

// Validate checks an operation against every session constraint without
// mutating state.
func (m *Manager) Validate(op SignedOperation) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked(op, m.now())
}

func (m *Manager) validateLocked(op SignedOperation, now time.Time) ValidationResult {
	fail := func(code ErrorCode, detail string) ValidationResult {
		metrics.RecordSessionValidationFailure(string(code))
		return ValidationResult{Err: newError(code, op.SessionID, detail)}
	}

	if m.killSwitch {
		return fail(CodeKillSwitch, "all sessions halted")
	}
	sk, ok := m.sessions[op.SessionID]
	if !ok {
		return fail(CodeNotFound, "unknown session")
	}
	if sk.public.Revoked {
		return fail(CodeRevoked, sk.public.RevokedReason)
	}
	if !now.Before(sk.public.ExpiresAt) {
		return fail(CodeExpired, fmt.Sprintf("expired at %s", sk.public.ExpiresAt.Format(time.RFC3339)))
	}
	if len(sk.selectors) > 0 {
		if _, ok := sk.selectors[normalizeSelector(op.Selector)]; !ok {
			return fail(CodeSelectorDenied, fmt.Sprintf("selector %s not in allow-set", op.Selector))
		}
	}
	if len(sk.targets) > 0 {
		if _, ok := sk.targets[op.Target]; !ok {
			return fail(CodeTargetDenied, fmt.Sprintf("target %s not in allow-set", op.Target.Hex()))
		}
	}
	if op.Nonce != sk.nonceCounter {
		return fail(CodeNonceInvalid, fmt.Sprintf("nonce %d, expected %d", op.Nonce, sk.nonceCounter))
	}

	value := op.ValueWei
	if value == nil {
		value = big.NewInt(0)
	}
	remaining := new(big.Int).Sub(sk.public.BudgetWei, sk.public.SpentWei)
	if value.Cmp(remaining) > 0 {
		return fail(CodeBudgetExceeded, fmt.Sprintf("value %s exceeds remaining budget %s", value, remaining))
	}

	remainingVelocity := (*big.Int)(nil)
	if sk.velocityLimit != nil {
		spent := sk.velocity.sum(now)
		remainingVelocity = new(big.Int).Sub(sk.velocityLimit, spent)
		if value.Cmp(remainingVelocity) > 0 {
			return fail(CodeVelocityExceeded,
				fmt.Sprintf("value %s exceeds trailing-window headroom %s", value, remainingVelocity))
		}
	}

	return ValidationResult{
		Valid:             true,
		RemainingBudget:   remaining,
		RemainingVelocity: remainingVelocity,
		ExpiresInMs:       sk.public.ExpiresAt.Sub(now).Milliseconds(),
	}
}

// Record validates and then atomically applies the operation's spend
// and nonce. The returned rollback undoes the mutation when the
// downstream submission fails; it is safe to call at most once.
func (m *Manager) Record(op SignedOperation) (rollback func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if res := m.validateLocked(op, now); !res.Valid {
		return nil, res.Err
	}

	sk := m.sessions[op.SessionID]
	value := op.ValueWei
	if value == nil {
		value = big.NewInt(0)
	}

	sk.public.SpentWei.Add(sk.public.SpentWei, value)
	sk.nonceCounter++
	sk.velocity.add(now, value)

	applied := new(big.Int).Set(value)
	var once sync.Once
	rollback = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			sk.public.SpentWei.Sub(sk.public.SpentWei, applied)
			sk.nonceCounter--
			sk.velocity.remove(applied)
		})
	}
	return rollback, nil
}

// Revoke terminally disables a session
func (m *Manager) Revoke(id, reason string) error {
	m.mu.Lock()
	sk, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return newError(CodeNotFound, id, "unknown session")
	}
	if sk.public.Revoked {
		m.mu.Unlock()
		return newError(CodeRevoked, id, "already revoked")
	}
	sk.public.Revoked = true
	sk.public.RevokedReason = reason
	active := m.activeCountLocked()
	m.mu.Unlock()

	metrics.RecordSessionRevoked(reason)
	metrics.UpdateActiveSessionKeys(active)
	m.log.Warn().Str("session_id", id).Str("reason", reason).Msg("Session revoked")

	if m.bus != nil {
		m.bus.PublishSecurityEvent(events.SecuritySessionRevoked, "session-manager",
			fmt.Sprintf("session %s revoked: %s", id, reason), map[string]interface{}{
				"sessionId": id,
				"reason":    reason,
			})
	}
	return nil
}

// Rotate revokes the session and issues a successor carrying its
// remaining budget and remaining validity window.
func (m *Manager) Rotate(id string) (PublicSession, error) {
	m.mu.Lock()
	sk, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return PublicSession{}, newError(CodeNotFound, id, "unknown session")
	}
	if sk.public.Revoked {
		m.mu.Unlock()
		return PublicSession{}, newError(CodeRevoked, id, "cannot rotate a revoked session")
	}
	now := m.now()
	if !now.Before(sk.public.ExpiresAt) {
		m.mu.Unlock()
		return PublicSession{}, newError(CodeExpired, id, "cannot rotate an expired session")
	}

	opts := CreateOptions{
		Owner:            sk.public.Owner,
		BudgetWei:        new(big.Int).Sub(sk.public.BudgetWei, sk.public.SpentWei),
		VelocityLimitWei: cloneBig(sk.velocityLimit),
		ExpiresAt:        sk.public.ExpiresAt,
		AllowedSelectors: setToSlice(sk.selectors),
	}
	for target := range sk.targets {
		opts.AllowedTargets = append(opts.AllowedTargets, target)
	}
	m.mu.Unlock()

	successor, err := m.Create(opts)
	if err != nil {
		return PublicSession{}, fmt.Errorf("failed to issue successor for %s: %w", id, err)
	}

	m.mu.Lock()
	m.sessions[successor.ID].public.PredecessorID = id
	successor.PredecessorID = id
	m.mu.Unlock()

	if err := m.Revoke(id, "rotated"); err != nil {
		return PublicSession{}, err
	}
	m.log.Info().Str("session_id", id).Str("successor_id", successor.ID).Msg("Session rotated")
	return successor, nil
}

// RevokeAll revokes every live session and blocks further validation.
// Registered as a guard kill-switch hook; ResumeAfterKillSwitch is the
// explicit admin re-enable.
func (m *Manager) RevokeAll(reason string) {
	m.mu.Lock()
	m.killSwitch = true
	var ids []string
	for id, sk := range m.sessions {
		if !sk.public.Revoked {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Revoke(id, "kill switch: "+reason)
	}
	m.log.Warn().Int("revoked", len(ids)).Str("reason", reason).Msg("All sessions revoked")
}

// ResumeAfterKillSwitch re-enables session issuance. Revoked sessions
// stay revoked; callers must create fresh ones.
func (m *Manager) ResumeAfterKillSwitch() {
	m.mu.Lock()
	m.killSwitch = false
	m.mu.Unlock()
	m.log.Info().Msg("Session manager resumed")
}

// Get returns the public view of a session
func (m *Manager) Get(id string) (PublicSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.sessions[id]
	if !ok {
		return PublicSession{}, newError(CodeNotFound, id, "unknown session")
	}
	return sk.public, nil
}

// NextNonce returns the nonce the session expects on its next operation
func (m *Manager) NextNonce(id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.sessions[id]
	if !ok {
		return 0, newError(CodeNotFound, id, "unknown session")
	}
	return sk.nonceCounter, nil
}

// Sign signs a transaction hash with the session's key. The plaintext
// key exists only for the duration of the call.
func (m *Manager) Sign(id string, txHash []byte) ([]byte, error) {
	m.mu.Lock()
	sk, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, newError(CodeNotFound, id, "unknown session")
	}
	if sk.public.Revoked {
		m.mu.Unlock()
		return nil, newError(CodeRevoked, id, sk.public.RevokedReason)
	}
	encrypted, nonce := sk.encryptedKey, sk.nonce
	m.mu.Unlock()

	keyBytes, err := m.decrypt(encrypted, nonce)
	if err != nil {
		return nil, newError(CodeEncryptionFailure, id, err.Error())
	}
	priv, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session key: %w", err)
	}
	sig, err := crypto.Sign(txHash, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign with session key: %w", err)
	}
	return sig, nil
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, sk := range m.sessions {
		if !sk.public.Revoked {
			count++
		}
	}
	return count
}

func (m *Manager) encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(m.masterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (m *Manager) decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session key: %w", err)
	}
	return plaintext, nil
}

func normalizeSelector(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "0x"))
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[normalizeSelector(item)] = struct{}{}
	}
	return set
}

func toAddressSet(addrs []common.Address) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		set[addr] = struct{}{}
	}
	return set
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
