package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"paygrid/core/types"
)

const paymentEventHistoryLimit = 2048

// PaymentEventUpdate carries one emitted payment event plus its position in
// the node's event sequence. The cursor is the decimal sequence number and
// lets a reconnecting subscriber resume where it left off.
type PaymentEventUpdate struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

func clonePaymentEventUpdate(update PaymentEventUpdate) PaymentEventUpdate {
	cloned := update
	if update.Event != nil {
		event := &types.Event{Type: update.Event.Type}
		if len(update.Event.Attributes) > 0 {
			event.Attributes = make(map[string]string, len(update.Event.Attributes))
			for k, v := range update.Event.Attributes {
				event.Attributes[k] = v
			}
		}
		cloned.Event = event
	}
	return cloned
}

func (n *Node) publishPaymentEvent(event *types.Event) {
	if n == nil || event == nil {
		return
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan PaymentEventUpdate)
	}
	n.streamSeq++
	update := PaymentEventUpdate{
		Sequence: n.streamSeq,
		Cursor:   strconv.FormatUint(n.streamSeq, 10),
		Event:    event,
	}
	n.streamHistory = append(n.streamHistory, clonePaymentEventUpdate(update))
	if len(n.streamHistory) > paymentEventHistoryLimit {
		excess := len(n.streamHistory) - paymentEventHistoryLimit
		trimmed := make([]PaymentEventUpdate, paymentEventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	subscribers := make([]chan PaymentEventUpdate, 0, len(n.streamSubs))
	for _, ch := range n.streamSubs {
		subscribers = append(subscribers, ch)
	}
	n.streamMu.Unlock()

	broadcast := clonePaymentEventUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// PaymentEventsSubscribe registers a subscriber for payment events emitted
// after the supplied cursor. The returned backlog replays retained history
// past the cursor; cancel releases the subscription.
func (n *Node) PaymentEventsSubscribe(ctx context.Context, cursor string) (<-chan PaymentEventUpdate, func(), []PaymentEventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan PaymentEventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan PaymentEventUpdate)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]PaymentEventUpdate, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]PaymentEventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, clonePaymentEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
