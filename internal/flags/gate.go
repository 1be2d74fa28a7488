package flags

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// Lister is the part of Store the gate reads from.
type Lister interface {
	List(ctx context.Context) ([]*Flag, error)
}

// Gate answers "is this detector enabled" from an in-memory snapshot of the
// flags, so bus handlers never wait on Redis. Detectors without a flag are
// enabled.
type Gate struct {
	source  Lister
	logger  *logrus.Logger
	current atomic.Pointer[map[string]bool]
}

func NewGate(source Lister, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Gate{source: source, logger: logger}
	g.Set(nil)
	return g
}

// Set replaces the snapshot.
func (g *Gate) Set(flags []*Flag) {
	m := make(map[string]bool, len(flags))
	for _, f := range flags {
		if f != nil {
			m[f.Key] = f.Enabled
		}
	}
	g.current.Store(&m)
}

func (g *Gate) Enabled(protocol string, t models.MatchType) bool {
	m := *g.current.Load()
	for _, key := range []string{DetectorKey(protocol, t), protocol, string(t)} {
		if enabled, ok := m[key]; ok {
			return enabled
		}
	}
	return true
}

// Refresh reloads the snapshot from the source. On error the previous
// snapshot is kept.
func (g *Gate) Refresh(ctx context.Context) error {
	if g.source == nil {
		return nil
	}
	flags, err := g.source.List(ctx)
	if err != nil {
		return err
	}
	g.Set(flags)
	return nil
}

// Run refreshes the snapshot every interval until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, interval)
			if err := g.Refresh(rctx); err != nil {
				g.logger.WithError(err).Warn("detector flags refresh failed, keeping previous snapshot")
			}
			cancel()
		}
	}
}
