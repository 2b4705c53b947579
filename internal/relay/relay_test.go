package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"parcelwatch/internal/model"
)

type staticSource struct {
	status model.PollStatus
	added  []model.DestinationPoint
	points []model.DestinationPoint
}

func (s staticSource) Status() model.PollStatus                    { return s.status }
func (s staticSource) Added() []model.DestinationPoint             { return s.added }
func (s staticSource) DestinationPoints() []model.DestinationPoint { return s.points }

func TestRedisRelayPublishesPollEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kyiv := model.DestinationPoint{ID: "12", DisplayName: "Kyiv"}
	src := staticSource{status: model.PollStatus{Parcels: 3}, added: []model.DestinationPoint{kyiv}, points: []model.DestinationPoint{kyiv}}
	r := NewRedisWithClient(rdb, "", "acc", src)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := r.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r.Notify()

	select {
	case evt := <-events:
		if evt.Type != EventPollCompleted || evt.Account != "acc" || !evt.OK || evt.Parcels != 3 {
			t.Fatalf("event = %+v", evt)
		}
		if len(evt.Added) != 1 || evt.Added[0] != kyiv {
			t.Fatalf("added = %+v", evt.Added)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaRelayWritesKeyedMessage(t *testing.T) {
	fw := &fakeWriter{}
	src := staticSource{status: model.PollStatus{LastError: "timeout", LastErrorKind: model.ErrorTransport}}
	k := &Kafka{w: fw, account: "acc", src: src, timeout: time.Second}
	k.Notify()

	if len(fw.msgs) != 1 || string(fw.msgs[0].Key) != "acc" {
		t.Fatalf("messages = %+v", fw.msgs)
	}
	var evt PollEvent
	if err := json.Unmarshal(fw.msgs[0].Value, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.OK || evt.ErrorKind != model.ErrorTransport || evt.Added == nil {
		t.Fatalf("event = %+v", evt)
	}
}
