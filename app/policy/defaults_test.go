package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchDefaultsReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	if err := os.WriteFile(path, []byte("retry_days: [8, 8, 8]\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan RetryPolicy, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchDefaults(ctx, path, func(p RetryPolicy) { changes <- p })
	}()

	deadline := time.After(5 * time.Second)
	for {
		// The watcher may not be registered yet, so keep rewriting until it reports.
		if err := os.WriteFile(path, []byte("retry_days: [1, 2]\n"), 0o600); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		select {
		case p := <-changes:
			if p.Days.String() != "1,2" {
				t.Fatalf("unexpected reloaded days: %s", p.Days)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watcher returned error: %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
