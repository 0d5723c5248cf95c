package conn

import (
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/backoff"
)

// DefaultBackoff starts at one second and doubles up to thirty.
var DefaultBackoff = backoff.Config{
	BaseDelay:  time.Second,
	Multiplier: 2,
	Jitter:     0.2,
	MaxDelay:   30 * time.Second,
}

// delay returns how long to wait before reconnect attempt number retries
// (zero-based), using exponential growth capped at MaxDelay with jitter.
func delay(cfg backoff.Config, retries int) time.Duration {
	if retries == 0 {
		return jitter(cfg, float64(cfg.BaseDelay))
	}
	d, maxDelay := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for d < maxDelay && retries > 0 {
		d *= cfg.Multiplier
		retries--
	}
	if d > maxDelay {
		d = maxDelay
	}
	return jitter(cfg, d)
}

func jitter(cfg backoff.Config, d float64) time.Duration {
	d *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
