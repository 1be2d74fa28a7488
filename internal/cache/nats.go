package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

var _ storage.MatchSink = (*NATSMatchPublisher)(nil)

// NATSMatchPublisher publishes matches to JetStream on matches.<protocol>
type NATSMatchPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Logger
}

func NewNATSMatchPublisher(ctx context.Context, url string, logger *logrus.Logger) (*NATSMatchPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}

	nc, err := nats.Connect(url,
		nats.Name("privacy-benchmark-analyzer"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSMatchPublisher{nc: nc, js: js, logger: logger}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"url":    url,
		"stream": constants.NATSStreamName,
	}).Info("NATS match publisher initialized")
	return p, nil
}

func (p *NATSMatchPublisher) ensureStream(ctx context.Context) error {
	if _, err := p.js.Stream(ctx, constants.NATSStreamName); err == nil {
		return nil
	}

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        constants.NATSStreamName,
		Description: "Privacy matches found by the realtime analyzer",
		Subjects:    []string{constants.NATSSubjectPrefix + ">"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      constants.NATSRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  constants.NATSDuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.WithField("stream", constants.NATSStreamName).Info("JetStream stream created")
	return nil
}

func (p *NATSMatchPublisher) Name() string { return "nats" }

// Subject is the JetStream subject a match is published on
func Subject(m *models.Match) string {
	return constants.NATSSubjectPrefix + m.Protocol
}

// MatchID derives a stable id from the match type, protocol and the
// signatures it links, so a replayed transaction yields the same id
func MatchID(m *models.Match) string {
	name := string(m.Type) + "|" + m.Protocol + "|" + strings.Join(m.Signatures(), ",")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// WriteMatch publishes with MatchID as the message id; JetStream drops
// repeats inside the stream's duplicate window
func (p *NATSMatchPublisher) WriteMatch(ctx context.Context, m *models.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(m), data, jetstream.WithMsgID(MatchID(m))); err != nil {
		return fmt.Errorf("failed to publish match: %w", err)
	}
	return nil
}

func (p *NATSMatchPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
