package upload

import (
	"context"
	"log"
	"time"
)

// RunPeriodicRetry re-attempts pending and failed uploads on a fixed
// interval until the context is cancelled. It runs unconditionally and
// independently of immediate retries triggered after a failed upload; the
// manager's per-state single-flight keeps the two from double-submitting.
func (m *Manager) RunPeriodicRetry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("upload: periodic retry stopped")
			return
		case <-ticker.C:
			results, err := m.RetryPending(ctx)
			if err != nil {
				log.Printf("upload: periodic retry: %v", err)
				continue
			}
			ok := 0
			for _, r := range results {
				if r.Err == nil {
					ok++
				}
			}
			if len(results) > 0 {
				log.Printf("upload: periodic retry: %d/%d succeeded", ok, len(results))
			}
		}
	}
}
