package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func completionBody(content string) string {
	return `{"model": "test", "choices": [{"message": {"content": "` + content + `"}}], "usage": {"total_tokens": 5}}`
}

func gatewayError() string {
	return `{"error": {"message": "overloaded", "type": "server_error"}}`
}

// countingServer serves a fixed status/body and counts requests.
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newChain(primaryURL, backupURL string, tracker TrackerConfig) *FallbackClient {
	return NewFallbackClient(FallbackConfig{
		Primary:       ClientConfig{Endpoint: primaryURL, Timeout: 2 * time.Second, RetryBackoff: time.Millisecond},
		PrimaryName:   "primary",
		Fallbacks:     []ClientConfig{{Endpoint: backupURL, Timeout: 2 * time.Second, RetryBackoff: time.Millisecond}},
		FallbackNames: []string{"backup"},
		Tracker:       tracker,
	})
}

func mustComplete(t *testing.T, fc *FallbackClient) string {
	t.Helper()
	resp, err := fc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(resp.Choices) == 0 {
		t.Fatal("Expected at least one choice")
	}
	return resp.Choices[0].Message.Content
}

func TestFallbackClient_PrimaryServes(t *testing.T) {
	primary, primaryCalls := countingServer(t, http.StatusOK, completionBody("from-primary"))
	backup, backupCalls := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	if content := mustComplete(t, fc); content != "from-primary" {
		t.Errorf("Expected from-primary, got %q", content)
	}
	if atomic.LoadInt32(primaryCalls) != 1 {
		t.Errorf("Expected 1 primary call, got %d", atomic.LoadInt32(primaryCalls))
	}
	if atomic.LoadInt32(backupCalls) != 0 {
		t.Errorf("Expected 0 backup calls, got %d", atomic.LoadInt32(backupCalls))
	}
}

func TestFallbackClient_FailsOverToBackup(t *testing.T) {
	primary, primaryCalls := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, backupCalls := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	if content := mustComplete(t, fc); content != "from-backup" {
		t.Errorf("Expected from-backup, got %q", content)
	}
	if atomic.LoadInt32(primaryCalls) != 1 {
		t.Errorf("Expected 1 primary call, got %d", atomic.LoadInt32(primaryCalls))
	}
	if atomic.LoadInt32(backupCalls) != 1 {
		t.Errorf("Expected 1 backup call, got %d", atomic.LoadInt32(backupCalls))
	}
}

func TestFallbackClient_NonRetryableStillFailsOver(t *testing.T) {
	// Auth failure on the primary should not strand the run
	primary, _ := countingServer(t, http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "authentication_error"}}`)
	backup, _ := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	if content := mustComplete(t, fc); content != "from-backup" {
		t.Errorf("Expected from-backup, got %q", content)
	}
}

func TestFallbackClient_CircuitOpensAfterThreshold(t *testing.T) {
	primary, primaryCalls := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, TrackerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		TimeWindow:       time.Minute,
	})

	for i := 0; i < 3; i++ {
		if content := mustComplete(t, fc); content != "from-backup" {
			t.Fatalf("Call %d: expected from-backup, got %q", i+1, content)
		}
	}

	// Third call must have skipped the open primary circuit
	if got := atomic.LoadInt32(primaryCalls); got != 2 {
		t.Errorf("Expected 2 primary calls, got %d", got)
	}

	statuses := fc.ProviderStatuses()
	if statuses[0].State != CircuitOpen {
		t.Errorf("Expected primary circuit OPEN, got %s", statuses[0].State)
	}
	if statuses[0].Provider != "primary" {
		t.Errorf("Expected provider name primary, got %s", statuses[0].Provider)
	}
	if statuses[0].RecentFailures != 2 {
		t.Errorf("Expected 2 recent failures, got %d", statuses[0].RecentFailures)
	}
	if statuses[1].State != CircuitClosed {
		t.Errorf("Expected backup circuit CLOSED, got %s", statuses[1].State)
	}
}

func TestFallbackClient_HalfOpenProbeRecovers(t *testing.T) {
	var healthy atomic.Bool
	var primaryCalls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(completionBody("from-primary")))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(gatewayError()))
	}))
	defer primary.Close()

	backup, _ := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, TrackerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          30 * time.Millisecond,
		TimeWindow:       time.Minute,
	})

	// Opens the primary circuit
	if content := mustComplete(t, fc); content != "from-backup" {
		t.Fatalf("Expected from-backup, got %q", content)
	}

	// Still open: primary must be skipped
	if content := mustComplete(t, fc); content != "from-backup" {
		t.Fatalf("Expected from-backup, got %q", content)
	}
	if got := atomic.LoadInt32(&primaryCalls); got != 1 {
		t.Fatalf("Expected 1 primary call while open, got %d", got)
	}

	// After the timeout a probe is allowed and the recovered primary serves
	healthy.Store(true)
	time.Sleep(40 * time.Millisecond)

	if content := mustComplete(t, fc); content != "from-primary" {
		t.Fatalf("Expected from-primary after recovery, got %q", content)
	}
	if got := fc.ProviderStatuses()[0].State; got != CircuitClosed {
		t.Errorf("Expected primary circuit CLOSED after recovery, got %s", got)
	}
}

func TestFallbackClient_FailedProbeReopens(t *testing.T) {
	primary, primaryCalls := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, TrackerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          20 * time.Millisecond,
		TimeWindow:       time.Minute,
	})

	mustComplete(t, fc) // opens primary
	time.Sleep(25 * time.Millisecond)
	mustComplete(t, fc) // probe fails, reopens

	if got := atomic.LoadInt32(primaryCalls); got != 2 {
		t.Fatalf("Expected 2 primary calls, got %d", got)
	}
	if got := fc.ProviderStatuses()[0].State; got != CircuitOpen {
		t.Errorf("Expected primary circuit OPEN after failed probe, got %s", got)
	}

	// Immediately after the failed probe the circuit blocks again
	mustComplete(t, fc)
	if got := atomic.LoadInt32(primaryCalls); got != 2 {
		t.Errorf("Expected primary still skipped, got %d calls", got)
	}
}

func TestFallbackClient_AllProvidersFail(t *testing.T) {
	primary, _ := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusServiceUnavailable, gatewayError())

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	_, err := fc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "all providers failed") {
		t.Errorf("Expected all-providers error, got: %v", err)
	}
}

func TestFallbackClient_AllCircuitsOpen(t *testing.T) {
	primary, _ := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusServiceUnavailable, gatewayError())

	fc := newChain(primary.URL, backup.URL, TrackerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		TimeWindow:       time.Minute,
	})

	// First call opens both circuits
	if _, err := fc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("Expected error, got nil")
	}

	_, err := fc.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "all circuits open") {
		t.Errorf("Expected all-circuits-open error, got: %v", err)
	}
}

func TestFallbackClient_ResetProvider(t *testing.T) {
	primary, primaryCalls := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, TrackerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		TimeWindow:       time.Minute,
	})

	mustComplete(t, fc) // opens primary
	mustComplete(t, fc) // primary skipped
	if got := atomic.LoadInt32(primaryCalls); got != 1 {
		t.Fatalf("Expected 1 primary call, got %d", got)
	}

	if err := fc.ResetProvider(0); err != nil {
		t.Fatalf("Unexpected reset error: %v", err)
	}

	mustComplete(t, fc) // primary tried again
	if got := atomic.LoadInt32(primaryCalls); got != 2 {
		t.Errorf("Expected 2 primary calls after reset, got %d", got)
	}

	if err := fc.ResetProvider(7); err == nil {
		t.Error("Expected error for invalid provider index")
	}
}

func TestFallbackClient_CompleteWithRetry_RetriesBeforeFallback(t *testing.T) {
	var primaryCalls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&primaryCalls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(completionBody("from-primary")))
	}))
	defer primary.Close()

	backup, backupCalls := countingServer(t, http.StatusOK, completionBody("from-backup"))

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	resp, err := fc.CompleteWithRetry(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != "from-primary" {
		t.Errorf("Expected from-primary, got %q", resp.Choices[0].Message.Content)
	}
	if got := atomic.LoadInt32(&primaryCalls); got != 2 {
		t.Errorf("Expected 2 primary calls, got %d", got)
	}
	if got := atomic.LoadInt32(backupCalls); got != 0 {
		t.Errorf("Expected 0 backup calls, got %d", got)
	}
}

func TestFallbackClient_CompleteWithSystem(t *testing.T) {
	primary, _ := countingServer(t, http.StatusServiceUnavailable, gatewayError())
	backup, _ := countingServer(t, http.StatusOK, completionBody("system verdict"))

	fc := newChain(primary.URL, backup.URL, DefaultTrackerConfig())

	content, err := fc.CompleteWithSystem(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if content != "system verdict" {
		t.Errorf("Expected system verdict, got %q", content)
	}
}

func TestFallbackClient_Model(t *testing.T) {
	fc := NewFallbackClient(FallbackConfig{
		Primary:   ClientConfig{Model: "alpha-primary"},
		Fallbacks: []ClientConfig{{Model: "beta-backup"}},
	})

	if fc.Model() != "alpha-primary" {
		t.Errorf("Expected alpha-primary, got %s", fc.Model())
	}
}

func TestFallbackClient_DefaultNames(t *testing.T) {
	fc := NewFallbackClient(FallbackConfig{
		Primary:   ClientConfig{},
		Fallbacks: []ClientConfig{{}, {}},
	})

	statuses := fc.ProviderStatuses()
	if len(statuses) != 3 {
		t.Fatalf("Expected 3 providers, got %d", len(statuses))
	}
	if statuses[0].Provider != "primary" {
		t.Errorf("Expected primary, got %s", statuses[0].Provider)
	}
	if statuses[1].Provider != "fallback-1" {
		t.Errorf("Expected fallback-1, got %s", statuses[1].Provider)
	}
	if statuses[2].Provider != "fallback-2" {
		t.Errorf("Expected fallback-2, got %s", statuses[2].Provider)
	}
}

func TestFallbackClient_ParseJSONResponse(t *testing.T) {
	fc := NewFallbackClient(FallbackConfig{Primary: ClientConfig{}})

	var verdict TrapVerdict
	content := "```json\n" + `{"is_trap": true, "trap_confidence": 0.95, "reasoning": "planted instructions"}` + "\n```"
	if err := fc.ParseJSONResponse(content, &verdict); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !verdict.IsTrap || verdict.TrapConfidence != 0.95 {
		t.Errorf("Unexpected verdict: %+v", verdict)
	}
}
