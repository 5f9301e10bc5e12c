package chain

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// BotPattern names one detected manipulation pattern class
type BotPattern string

const (
	PatternSandwich BotPattern = "sandwich"
	PatternBurst    BotPattern = "burst"
	PatternCluster  BotPattern = "cluster"
	PatternFrontrun BotPattern = "frontrun"
)

// Risk score weights per pattern class
const (
	weightSandwich = 0.30
	weightCluster  = 0.20
	weightBurst    = 0.15
	weightFrontrun = 0.20
)

// RadarConfig tunes the bot-radar detectors
type RadarConfig struct {
	Window      time.Duration // trailing window of transactions considered
	BurstCount  int           // minimum tx from one sender to call a burst
	BurstWindow time.Duration // window the burst must fit into
	ValueFloor  *big.Int      // sandwich outer legs must exceed this (native wei)
}

// DefaultRadarConfig returns the production detector settings
func DefaultRadarConfig() RadarConfig {
	return RadarConfig{
		Window:      60 * time.Second,
		BurstCount:  5,
		BurstWindow: 10 * time.Second,
		ValueFloor:  big.NewInt(1_000_000_000_000_000_000), // 1 native unit
	}
}

// PatternHit is one detected pattern instance
type PatternHit struct {
	Pattern     BotPattern `json:"pattern"`
	Confidence  float64    `json:"confidence"`
	TxHashes    []string   `json:"txHashes"`
	Description string     `json:"description"`
}

// BotRadarReport aggregates pattern hits into a risk score and level
type BotRadarReport struct {
	Token          string       `json:"token"`
	WindowSeconds  int          `json:"windowSeconds"`
	TxCount        int          `json:"txCount"`
	RiskScore      float64      `json:"riskScore"`
	Level          string       `json:"level"` // none | low | medium | high | critical
	Patterns       []PatternHit `json:"patterns"`
	Recommendation string       `json:"recommendation"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ScanTransactions runs the four pattern detectors over a transaction
// window. The result is deterministic for a given input: transactions are
// re-sorted internally and pattern hits come out in a fixed order.
func ScanTransactions(token string, txs []Transaction, cfg RadarConfig) *BotRadarReport {
	report := &BotRadarReport{
		Token:         token,
		WindowSeconds: int(cfg.Window.Seconds()),
		Timestamp:     time.Now().UTC(),
	}

	window := filterWindow(txs, cfg.Window)
	report.TxCount = len(window)
	if len(window) == 0 {
		report.Level = "none"
		report.Recommendation = "No recent activity to analyze"
		return report
	}

	var hits []PatternHit
	hits = append(hits, detectSandwich(window, cfg.ValueFloor)...)
	hits = append(hits, detectBurst(window, cfg.BurstCount, cfg.BurstWindow)...)
	hits = append(hits, detectCluster(window)...)
	hits = append(hits, detectFrontrun(window)...)

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Pattern != hits[j].Pattern {
			return hits[i].Pattern < hits[j].Pattern
		}
		return hits[i].Confidence > hits[j].Confidence
	})
	report.Patterns = hits

	score := 0.0
	best := map[BotPattern]float64{}
	for _, h := range hits {
		if h.Confidence > best[h.Pattern] {
			best[h.Pattern] = h.Confidence
		}
	}
	score += weightSandwich * best[PatternSandwich]
	score += weightCluster * best[PatternCluster]
	score += weightBurst * best[PatternBurst]
	score += weightFrontrun * best[PatternFrontrun]
	if score > 1 {
		score = 1
	}
	report.RiskScore = score
	report.Level = gradeRisk(score, len(hits))
	report.Recommendation = recommend(best, report.Level)

	return report
}

func gradeRisk(score float64, hitCount int) string {
	switch {
	case hitCount == 0:
		return "none"
	case score < 0.25:
		return "low"
	case score < 0.5:
		return "medium"
	case score < 0.75:
		return "high"
	default:
		return "critical"
	}
}

func recommend(best map[BotPattern]float64, level string) string {
	if best[PatternSandwich] >= 0.85 {
		return "Sandwich bots active: use MEV protection (private relay) for any execution on this token"
	}
	switch level {
	case "critical", "high":
		return "Elevated bot activity: avoid execution until activity subsides"
	case "medium", "low":
		return "Some automated activity detected: prefer protected submission routes"
	default:
		return "No elevated bot activity detected"
	}
}

// filterWindow keeps transactions inside the trailing window, sorted
// oldest first.
func filterWindow(txs []Transaction, window time.Duration) []Transaction {
	if len(txs) == 0 {
		return nil
	}
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	cutoff := sorted[len(sorted)-1].Timestamp.Add(-window)
	var out []Transaction
	for _, tx := range sorted {
		if !tx.Timestamp.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}

// txValue returns the native value of a transaction, falling back to the
// token amount when the native size is unknown.
func txValue(tx Transaction) *big.Int {
	if v, err := parseAmount(tx.ValueWei); err == nil && v.Sign() > 0 {
		return v
	}
	if v, err := parseAmount(tx.AmountToken); err == nil {
		return v
	}
	return new(big.Int)
}

// detectSandwich finds A-B-A triples: outer legs share a sender and
// exceed the value floor, the middle leg is someone else, and all three
// land inside one second.
func detectSandwich(txs []Transaction, valueFloor *big.Int) []PatternHit {
	var hits []PatternHit
	if valueFloor == nil {
		valueFloor = new(big.Int)
	}

	for i := 0; i < len(txs); i++ {
		outer := txs[i]
		outerVal := txValue(outer)
		if outerVal.Cmp(valueFloor) < 0 {
			continue
		}
		for k := i + 2; k < len(txs); k++ {
			closing := txs[k]
			if closing.Timestamp.Sub(outer.Timestamp) > time.Second {
				break
			}
			if closing.Sender != outer.Sender {
				continue
			}
			closingVal := txValue(closing)
			if closingVal.Cmp(valueFloor) < 0 {
				continue
			}
			for j := i + 1; j < k; j++ {
				victim := txs[j]
				if victim.Sender == outer.Sender {
					continue
				}
				confidence := 0.85
				victimVal := txValue(victim)
				if victimVal.Sign() > 0 {
					ratio := new(big.Int).Div(outerVal, victimVal)
					if ratio.Cmp(big.NewInt(5)) >= 0 {
						confidence = 0.95
					}
				}
				hits = append(hits, PatternHit{
					Pattern:    PatternSandwich,
					Confidence: confidence,
					TxHashes:   []string{outer.Hash, victim.Hash, closing.Hash},
					Description: fmt.Sprintf("sender %s bracketed a trade by %s within %dms",
						shortAddr(outer.Sender), shortAddr(victim.Sender),
						closing.Timestamp.Sub(outer.Timestamp).Milliseconds()),
				})
				// One victim per bracket is enough evidence
				break
			}
		}
	}
	return hits
}

// detectBurst finds senders firing BurstCount or more transactions
// inside the burst window.
func detectBurst(txs []Transaction, burstCount int, burstWindow time.Duration) []PatternHit {
	if burstCount <= 0 {
		return nil
	}

	bySender := map[string][]Transaction{}
	var senders []string
	for _, tx := range txs {
		if _, seen := bySender[tx.Sender]; !seen {
			senders = append(senders, tx.Sender)
		}
		bySender[tx.Sender] = append(bySender[tx.Sender], tx)
	}
	sort.Strings(senders)

	var hits []PatternHit
	for _, sender := range senders {
		own := bySender[sender]
		bestCount := 0
		bestStart := 0
		for i := range own {
			j := i
			for j < len(own) && own[j].Timestamp.Sub(own[i].Timestamp) <= burstWindow {
				j++
			}
			if j-i > bestCount {
				bestCount = j - i
				bestStart = i
			}
		}
		if bestCount >= burstCount {
			hashes := make([]string, 0, bestCount)
			for _, tx := range own[bestStart : bestStart+bestCount] {
				hashes = append(hashes, tx.Hash)
			}
			confidence := float64(bestCount) / float64(burstCount*2)
			if confidence > 1 {
				confidence = 1
			}
			hits = append(hits, PatternHit{
				Pattern:    PatternBurst,
				Confidence: confidence,
				TxHashes:   hashes,
				Description: fmt.Sprintf("%d transactions from %s within %s",
					bestCount, shortAddr(sender), burstWindow),
			})
		}
	}
	return hits
}

// detectCluster finds three or more distinct senders trading the same
// direction inside a 30 second window.
func detectCluster(txs []Transaction) []PatternHit {
	const clusterWindow = 30 * time.Second
	const clusterMinSenders = 3

	var hits []PatternHit
	for _, direction := range []string{"buy", "sell"} {
		var directional []Transaction
		for _, tx := range txs {
			if tx.Direction == direction {
				directional = append(directional, tx)
			}
		}
		if len(directional) < clusterMinSenders {
			continue
		}

		bestSenders := map[string]bool{}
		var bestHashes []string
		for i := range directional {
			senders := map[string]bool{}
			var hashes []string
			for j := i; j < len(directional) && directional[j].Timestamp.Sub(directional[i].Timestamp) <= clusterWindow; j++ {
				senders[directional[j].Sender] = true
				hashes = append(hashes, directional[j].Hash)
			}
			if len(senders) > len(bestSenders) {
				bestSenders = senders
				bestHashes = hashes
			}
		}

		if len(bestSenders) >= clusterMinSenders {
			confidence := 0.4 + 0.1*float64(len(bestSenders))
			if confidence > 0.95 {
				confidence = 0.95
			}
			hits = append(hits, PatternHit{
				Pattern:    PatternCluster,
				Confidence: confidence,
				TxHashes:   bestHashes,
				Description: fmt.Sprintf("%d distinct senders %sing within %s",
					len(bestSenders), direction, clusterWindow),
			})
		}
	}
	return hits
}

// detectFrontrun finds consecutive pairs within 500ms where the first
// transaction is at least 5x the second's value and from a different
// sender.
func detectFrontrun(txs []Transaction) []PatternHit {
	const frontrunGap = 500 * time.Millisecond

	var hits []PatternHit
	for i := 0; i+1 < len(txs); i++ {
		first, second := txs[i], txs[i+1]
		if second.Timestamp.Sub(first.Timestamp) > frontrunGap {
			continue
		}
		if first.Sender == second.Sender {
			continue
		}
		firstVal, secondVal := txValue(first), txValue(second)
		if secondVal.Sign() == 0 {
			continue
		}
		ratio := new(big.Int).Div(firstVal, secondVal)
		if ratio.Cmp(big.NewInt(5)) < 0 {
			continue
		}

		confidence := 0.75
		if second.Timestamp.Sub(first.Timestamp) < 100*time.Millisecond {
			confidence = 0.8
		}
		hits = append(hits, PatternHit{
			Pattern:    PatternFrontrun,
			Confidence: confidence,
			TxHashes:   []string{first.Hash, second.Hash},
			Description: fmt.Sprintf("%s led %s by %dms at %sx the size",
				shortAddr(first.Sender), shortAddr(second.Sender),
				second.Timestamp.Sub(first.Timestamp).Milliseconds(), ratio.String()),
		})
	}
	return hits
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
