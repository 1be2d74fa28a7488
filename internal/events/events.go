package events

import "github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"

type Topic string

const (
	TopicDepositNew     Topic = "deposit:new"
	TopicWithdrawalNew  Topic = "withdrawal:new"
	TopicTransferNew    Topic = "transfer:new"
	TopicSwapInput      Topic = "swap:input"
	TopicSwapOutput     Topic = "swap:output"
	TopicMatchFound     Topic = "match:found"
	TopicIndexUpdated   Topic = "index:updated"
	TopicMetricsUpdated Topic = "metrics:updated"
)

// Topics lists every topic the bus carries.
var Topics = []Topic{
	TopicDepositNew,
	TopicWithdrawalNew,
	TopicTransferNew,
	TopicSwapInput,
	TopicSwapOutput,
	TopicMatchFound,
	TopicIndexUpdated,
	TopicMetricsUpdated,
}

// Event is the payload of one topic. The set of implementations is closed:
// only types in this package can satisfy it.
type Event interface {
	Topic() Topic
	sealed()
}

type DepositEvent struct {
	Deposit  models.Deposit
	Protocol string
}

type WithdrawalEvent struct {
	Withdrawal models.Withdrawal
	Protocol   string
}

type TransferEvent struct {
	Transfer models.Transfer
	Protocol string
}

type SwapInputEvent struct {
	Input    models.SwapInput
	Protocol string
}

type SwapOutputEvent struct {
	Output   models.SwapOutput
	Protocol string
}

// MatchFoundEvent carries a match to consumers. Consumers must treat Match as
// read-only.
type MatchFoundEvent struct {
	Type     models.MatchType
	Match    *models.Match
	Protocol string
}

type IndexUpdatedEvent struct {
	Protocol string
	Size     int
}

type MetricsUpdatedEvent struct {
	Protocol string
}

func (DepositEvent) Topic() Topic        { return TopicDepositNew }
func (WithdrawalEvent) Topic() Topic     { return TopicWithdrawalNew }
func (TransferEvent) Topic() Topic       { return TopicTransferNew }
func (SwapInputEvent) Topic() Topic      { return TopicSwapInput }
func (SwapOutputEvent) Topic() Topic     { return TopicSwapOutput }
func (MatchFoundEvent) Topic() Topic     { return TopicMatchFound }
func (IndexUpdatedEvent) Topic() Topic   { return TopicIndexUpdated }
func (MetricsUpdatedEvent) Topic() Topic { return TopicMetricsUpdated }

func (DepositEvent) sealed()        {}
func (WithdrawalEvent) sealed()     {}
func (TransferEvent) sealed()       {}
func (SwapInputEvent) sealed()      {}
func (SwapOutputEvent) sealed()     {}
func (MatchFoundEvent) sealed()     {}
func (IndexUpdatedEvent) sealed()   {}
func (MetricsUpdatedEvent) sealed() {}
