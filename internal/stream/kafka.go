package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

var _ storage.RawTransactionSource = (*KafkaSource)(nil)

// KafkaSource consumes raw transactions from a Kafka topic. The message key
// is the protocol id and the value a JSON parser.RawTransaction.
type KafkaSource struct {
	group     sarama.ConsumerGroup
	topic     string
	protocols map[string]bool
	logger    *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// KafkaSourceConfig holds configuration for the Kafka source
type KafkaSourceConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// Protocols restricts delivery; messages of other protocols are skipped
	Protocols []string
	Logger    *logrus.Logger
}

// NewKafkaSource joins the consumer group. Offsets start at the oldest
// message for a new group.
func NewKafkaSource(cfg KafkaSourceConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.GroupID == "" || cfg.Topic == "" {
		return nil, errors.New("brokers/group/topic required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	protocols := make(map[string]bool, len(cfg.Protocols))
	for _, p := range cfg.Protocols {
		protocols[p] = true
	}

	return &KafkaSource{
		group:     group,
		topic:     cfg.Topic,
		protocols: protocols,
		logger:    cfg.Logger,
	}, nil
}

// Start consumes until ctx is cancelled or Stop is called
func (k *KafkaSource) Start(ctx context.Context, handler storage.RawTransactionHandler) error {
	k.mu.Lock()
	if k.cancel != nil {
		k.mu.Unlock()
		return fmt.Errorf("kafka source already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		k.cancel = nil
		k.mu.Unlock()
	}()

	go func() {
		for err := range k.group.Errors() {
			k.logger.WithError(err).Warn("kafka consumer error")
		}
	}()

	h := &rawClaimHandler{source: k, handler: handler}
	k.logger.WithField("topic", k.topic).Info("consuming raw transactions from kafka")

	// Consume returns on every rebalance and must be called again
	for {
		if err := k.group.Consume(ctx, []string{k.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return ctx.Err()
			}
			k.logger.WithError(err).Warn("kafka consume error")
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Stop cancels consumption and leaves the group
func (k *KafkaSource) Stop() error {
	k.mu.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	k.mu.Unlock()
	return k.group.Close()
}

// decode turns one message into a protocol and transaction. ok is false
// for messages this source should skip.
func (k *KafkaSource) decode(msg *sarama.ConsumerMessage) (string, parser.RawTransaction, bool) {
	protocol := strings.TrimSpace(string(msg.Key))
	fields := logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"protocol":  protocol,
	}

	if protocol == "" {
		k.logger.WithFields(fields).Warn("skipping raw transaction without protocol key")
		return "", parser.RawTransaction{}, false
	}
	if len(k.protocols) > 0 && !k.protocols[protocol] {
		return "", parser.RawTransaction{}, false
	}

	var tx parser.RawTransaction
	if err := json.Unmarshal(msg.Value, &tx); err != nil {
		k.logger.WithError(err).WithFields(fields).Warn("bad raw transaction")
		return "", parser.RawTransaction{}, false
	}
	return protocol, tx, true
}

type rawClaimHandler struct {
	source  *KafkaSource
	handler storage.RawTransactionHandler
}

func (h *rawClaimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *rawClaimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim delivers messages in partition order. Undecodable messages
// are marked too, so they are not redelivered.
func (h *rawClaimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if protocol, tx, ok := h.source.decode(msg); ok {
				h.handler(protocol, tx)
			}
			sess.MarkMessage(msg, "")
		}
	}
}

// SplitBrokers parses a comma separated broker list
func SplitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
