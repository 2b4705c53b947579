package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"parcelwatch/internal/store"
)

// Event types delivered to subscribers.
const (
	EventDestinationAdded = "destination.added"
	EventDeliveredChanged = "delivered.changed"
)

type Publisher struct {
	Store   store.Store
	Account string
	now     func() time.Time
}

func NewPublisher(s store.Store, account string) *Publisher {
	return &Publisher{Store: s, Account: account, now: time.Now}
}

// Emit enqueues an event for every subscription matching eventType.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		log.Printf("webhooks: list subscriptions event=%s err=%v", eventType, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":      "evt_" + uuid.NewString(),
		"type":    eventType,
		"account": p.Account,
		"ts":      p.now().UTC().Format(time.RFC3339),
		"data":    data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			log.Printf("webhooks: enqueue sub=%s event=%s err=%v", s.ID, eventType, err)
		}
	}
}
