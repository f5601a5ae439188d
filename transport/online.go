package transport

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OnlineMonitor is the process-wide connectivity flag the queue polls
// before attempting delivery. Platforms with real connectivity events call
// SetOnline from their handlers; everyone else can run Watch to probe the
// endpoint on an interval.
type OnlineMonitor struct {
	online atomic.Bool
}

// NewOnlineMonitor returns a monitor that starts online: the first delivery
// attempt decides the truth, not a guess.
func NewOnlineMonitor() *OnlineMonitor {
	m := &OnlineMonitor{}
	m.online.Store(true)
	return m
}

// IsOnline reports the current flag.
func (m *OnlineMonitor) IsOnline() bool { return m.online.Load() }

// SetOnline toggles the flag; wired to the host platform's connectivity
// events when it has them.
func (m *OnlineMonitor) SetOnline(v bool) { m.online.Store(v) }

// Watch probes url with a HEAD request every interval and toggles the flag
// from the outcome. Blocks until ctx is cancelled; run it in a goroutine.
func (m *OnlineMonitor) Watch(ctx context.Context, client *http.Client, url string, interval time.Duration, logger *zap.Logger) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			was := m.IsOnline()
			now := m.probe(ctx, client, url)
			m.online.Store(now)
			if was != now {
				logger.Info("connectivity changed", zap.Bool("online", now))
			}
		}
	}
}

func (m *OnlineMonitor) probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any response at all means the network path works; a 4xx/5xx is the
	// server's problem, not a connectivity outage.
	return true
}
