package events

import (
	"errors"
	"io"
	"testing"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewBus(BusConfig{Logger: logger})
}

type countingObserver struct {
	published map[Topic]int
	failed    map[Topic]int
}

func (o *countingObserver) EventPublished(t Topic) { o.published[t]++ }
func (o *countingObserver) HandlerFailed(t Topic)  { o.failed[t]++ }

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := newTestBus()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bus.Subscribe(TopicDepositNew, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.Publish(DepositEvent{Deposit: models.Deposit{Signature: "a"}})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_OnlyMatchingTopic(t *testing.T) {
	bus := newTestBus()

	var deposits, withdrawals int
	On(bus, func(DepositEvent) error { deposits++; return nil })
	On(bus, func(WithdrawalEvent) error { withdrawals++; return nil })

	bus.Publish(DepositEvent{})
	bus.Publish(DepositEvent{})
	bus.Publish(WithdrawalEvent{})

	assert.Equal(t, 2, deposits)
	assert.Equal(t, 1, withdrawals)
}

func TestBus_HandlerFaultsAreIsolated(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	obs := &countingObserver{published: map[Topic]int{}, failed: map[Topic]int{}}
	bus := NewBus(BusConfig{Logger: logger, Observer: obs})

	var reached []string
	bus.Subscribe(TopicTransferNew, func(Event) error {
		reached = append(reached, "first")
		return errors.New("boom")
	})
	bus.Subscribe(TopicTransferNew, func(Event) error {
		reached = append(reached, "second")
		panic("worse")
	})
	bus.Subscribe(TopicTransferNew, func(Event) error {
		reached = append(reached, "third")
		return nil
	})

	require.NotPanics(t, func() { bus.Publish(TransferEvent{}) })
	assert.Equal(t, []string{"first", "second", "third"}, reached)
	assert.Equal(t, 1, obs.published[TopicTransferNew])
	assert.Equal(t, 2, obs.failed[TopicTransferNew])
}

func TestBus_SubscriberAddedDuringDeliveryMissesCurrentEvent(t *testing.T) {
	bus := newTestBus()

	var late int
	bus.Subscribe(TopicSwapInput, func(Event) error {
		bus.Subscribe(TopicSwapInput, func(Event) error {
			late++
			return nil
		})
		return nil
	})

	bus.Publish(SwapInputEvent{})
	assert.Equal(t, 0, late)

	bus.Publish(SwapInputEvent{})
	assert.Equal(t, 1, late)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := newTestBus()

	var calls int
	tok := On(bus, func(MatchFoundEvent) error { calls++; return nil })
	other := On(bus, func(MatchFoundEvent) error { return nil })

	bus.Publish(MatchFoundEvent{})
	assert.True(t, bus.Unsubscribe(tok))
	assert.False(t, bus.Unsubscribe(tok))
	bus.Publish(MatchFoundEvent{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, bus.SubscriberCount(TopicMatchFound))

	assert.True(t, bus.Unsubscribe(other))
	assert.Equal(t, 0, bus.SubscriberCount(TopicMatchFound))
}

func TestBus_TypedHandlerReceivesPayload(t *testing.T) {
	bus := newTestBus()

	var got IndexUpdatedEvent
	On(bus, func(e IndexUpdatedEvent) error {
		got = e
		return nil
	})

	bus.Publish(IndexUpdatedEvent{Protocol: "privacy-cash", Size: 7})
	assert.Equal(t, "privacy-cash", got.Protocol)
	assert.Equal(t, 7, got.Size)
}

func TestTopics_AreUnique(t *testing.T) {
	seen := map[Topic]bool{}
	for _, topic := range Topics {
		assert.False(t, seen[topic], "duplicate topic %s", topic)
		seen[topic] = true
	}
	assert.Len(t, seen, 8)
}
