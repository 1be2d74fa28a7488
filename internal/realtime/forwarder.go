package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

// ForwarderConfig holds configuration for the sink forwarder
type ForwarderConfig struct {
	MatchSinks   []storage.MatchSink
	DepositSinks []storage.DepositSink
	QueueSize    int
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *logrus.Logger
}

type forwardItem struct {
	protocol string
	match    *models.Match
	deposit  *models.Deposit
}

func (it forwardItem) kind() string {
	if it.match != nil {
		return "match"
	}
	return "deposit"
}

// Forwarder moves match:found and deposit:new events off the synchronous bus
// into a bounded queue drained by one goroutine that writes to the sinks.
// When the queue is full new items are dropped and logged; the bus is never
// blocked on sink I/O.
type Forwarder struct {
	bus     *events.Bus
	cfg     ForwarderConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics

	queue chan forwardItem
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	tokens  []events.Token
	stopped bool
}

func NewForwarder(bus *events.Bus, cfg ForwarderConfig) *Forwarder {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &Forwarder{
		bus:     bus,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		queue:   make(chan forwardItem, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the bus and starts the writer goroutine. The writer
// stops when ctx is done or Stop is called; queued items are written either
// way.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) > 0 || f.stopped {
		return
	}

	if len(f.cfg.MatchSinks) > 0 {
		f.tokens = append(f.tokens, events.On(f.bus, func(e events.MatchFoundEvent) error {
			f.enqueue(forwardItem{protocol: e.Protocol, match: e.Match})
			return nil
		}))
	}
	if len(f.cfg.DepositSinks) > 0 {
		f.tokens = append(f.tokens, events.On(f.bus, func(e events.DepositEvent) error {
			d := e.Deposit
			f.enqueue(forwardItem{protocol: e.Protocol, deposit: &d})
			return nil
		}))
	}

	f.wg.Add(1)
	go f.run(ctx)
}

// Stop unsubscribes, writes what is still queued and waits for the writer.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	tokens := f.tokens
	f.tokens = nil
	f.mu.Unlock()

	for _, tok := range tokens {
		f.bus.Unsubscribe(tok)
	}
	close(f.done)
	f.wg.Wait()

	// The writer may have left on ctx while the bus was still enqueueing.
	f.drain()
}

func (f *Forwarder) enqueue(it forwardItem) {
	select {
	case <-f.done:
		return
	default:
	}

	select {
	case f.queue <- it:
	default:
		f.metrics.RecordDropped(it.kind())
		f.logger.WithFields(logrus.Fields{
			"kind":     it.kind(),
			"protocol": it.protocol,
		}).Warn("forwarder queue full, dropping")
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case it := <-f.queue:
			f.write(ctx, it)
		case <-f.done:
			f.drain()
			return
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

func (f *Forwarder) drain() {
	for {
		select {
		case it := <-f.queue:
			f.write(context.Background(), it)
		default:
			return
		}
	}
}

func (f *Forwarder) write(ctx context.Context, it forwardItem) {
	if it.match != nil {
		for _, s := range f.cfg.MatchSinks {
			f.writeOne(ctx, s.Name(), it, func(ctx context.Context) error {
				return s.WriteMatch(ctx, it.match)
			})
		}
		return
	}
	for _, s := range f.cfg.DepositSinks {
		f.writeOne(ctx, s.Name(), it, func(ctx context.Context) error {
			return s.WriteDeposit(ctx, it.protocol, *it.deposit)
		})
	}
}

func (f *Forwarder) writeOne(ctx context.Context, sink string, it forwardItem, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	f.metrics.RecordSinkWrite(sink, time.Since(start).Seconds(), err)
	if err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"sink":     sink,
			"kind":     it.kind(),
			"protocol": it.protocol,
		}).Error("sink write failed")
	}
}
