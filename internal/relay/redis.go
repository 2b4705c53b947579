package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis publishes a PollEvent to a pub/sub channel after every poll.
type Redis struct {
	rdb     *redis.Client
	channel string
	account string
	src     Source
}

func NewRedis(url, channel, account string, src Source) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisWithClient(redis.NewClient(opt), channel, account, src), nil
}

func NewRedisWithClient(rdb *redis.Client, channel, account string, src Source) *Redis {
	if channel == "" {
		channel = "parcelwatch.poll"
	}
	return &Redis{rdb: rdb, channel: channel, account: account, src: src}
}

func (r *Redis) Notify() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(NewEvent(r.account, r.src))
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		log.Printf("relay: redis publish channel=%s err=%v", r.channel, err)
	}
}

// Subscribe streams decoded events from the channel until ctx ends.
func (r *Redis) Subscribe(ctx context.Context) (<-chan PollEvent, error) {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	out := make(chan PollEvent, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt PollEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
