package logger

import "testing"

func TestSanitizeKVsRedactsCredentials(t *testing.T) {
	got := sanitizeKVs([]interface{}{"password", "hunter2", "drawing", "D-100", "accessToken", "abc", "dangling"})
	want := []interface{}{"password", "[REDACTED]", "drawing", "D-100", "accessToken", "[REDACTED]", "dangling"}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := Nop().With("component", "test")
	log.Info("hello", "k", "v")
	log.Warn("careful", "token", "x")
	log.Sync()
}
