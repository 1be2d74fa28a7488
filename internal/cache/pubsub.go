// ============================================================================
// cache/pubsub.go - Redis Pub/Sub Wrapper
// ============================================================================
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

type PubSubManager struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPubSubManager(client *redis.Client, logger *logrus.Logger) *PubSubManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &PubSubManager{client: client, logger: logger}
}

// SubscribeMatches delivers matches published on channel until ctx is done
func (p *PubSubManager) SubscribeMatches(ctx context.Context, channel string, handler func(*models.Match)) error {
	ps := p.client.Subscribe(ctx, channel)
	defer ps.Close()

	p.logger.WithField("channel", channel).Info("subscribed to match channel")
	return consume(ctx, ps, func(msg *redis.Message) {
		var m models.Match
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			p.logger.WithError(err).WithField("channel", msg.Channel).Warn("error unmarshaling match")
			return
		}
		handler(&m)
	})
}

// PSubscribeMatches subscribes to a pattern (e.g., "matches:protocol:*")
func (p *PubSubManager) PSubscribeMatches(ctx context.Context, pattern string, handler func(channel string, m *models.Match)) error {
	ps := p.client.PSubscribe(ctx, pattern)
	defer ps.Close()

	p.logger.WithField("pattern", pattern).Info("subscribed to match pattern")
	return consume(ctx, ps, func(msg *redis.Message) {
		var m models.Match
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			p.logger.WithError(err).WithField("channel", msg.Channel).Warn("error unmarshaling match")
			return
		}
		handler(msg.Channel, &m)
	})
}

// PublishRaw hands a raw transaction to every analyzer subscribed to protocol
func (p *PubSubManager) PublishRaw(ctx context.Context, protocol string, tx parser.RawTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal raw transaction: %w", err)
	}
	return p.client.Publish(ctx, constants.RawChannelPrefix+protocol, data).Err()
}

func consume(ctx context.Context, ps *redis.PubSub, fn func(*redis.Message)) error {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg)
		}
	}
}

var _ storage.RawTransactionSource = (*RawSubscriber)(nil)

// RawSubscriber reads raw protocol transactions from the raw:<protocol>
// channels
type RawSubscriber struct {
	client    *redis.Client
	protocols []string
	logger    *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewRawSubscriber(client *redis.Client, protocols []string, logger *logrus.Logger) *RawSubscriber {
	if logger == nil {
		logger = logrus.New()
	}
	return &RawSubscriber{client: client, protocols: protocols, logger: logger}
}

// Start blocks delivering transactions until ctx is done or Stop is called
func (s *RawSubscriber) Start(ctx context.Context, handler storage.RawTransactionHandler) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("raw subscriber already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	channels := make([]string, 0, len(s.protocols))
	for _, p := range s.protocols {
		channels = append(channels, constants.RawChannelPrefix+p)
	}

	ps := s.client.Subscribe(ctx, channels...)
	defer ps.Close()

	s.logger.WithField("channels", channels).Info("subscribed to raw transaction channels")
	err := consume(ctx, ps, func(msg *redis.Message) {
		protocol := strings.TrimPrefix(msg.Channel, constants.RawChannelPrefix)
		var tx parser.RawTransaction
		if err := json.Unmarshal([]byte(msg.Payload), &tx); err != nil {
			s.logger.WithError(err).WithField("protocol", protocol).Warn("error unmarshaling raw transaction")
			return
		}
		handler(protocol, tx)
	})

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	return err
}

func (s *RawSubscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
