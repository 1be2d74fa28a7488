package constants

import "time"

// Redis keys
const (
	RedisKeyRecentMatches = "matches:recent"
)

// Redis Pub/Sub channels
const (
	PubSubChannelMatches         = "matches:all"
	PubSubChannelProtocolPrefix  = "matches:protocol:"
	PubSubChannelMatchTypePrefix = "matches:type:"
	// Raw transactions for a protocol arrive on RawChannelPrefix + protocol.
	RawChannelPrefix = "raw:"
)

// NATS JetStream
const (
	NATSStreamName      = "PRIVACY_MATCHES"
	NATSSubjectPrefix   = "matches."
	NATSRetention       = 30 * 24 * time.Hour
	// Matches with the same id inside this window are stored once
	NATSDuplicateWindow = 10 * time.Minute
)

// Limits
const (
	MaxRecentMatches   = 1000
	SignatureBatchSize = 25
)

// Rate limiting
const (
	DelayBetweenTxFetch = 500 * time.Millisecond // Delay between getTransaction calls
)
