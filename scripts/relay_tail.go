// Package main tails poll events, either from the /v1/events websocket or
// from the Redis relay channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"parcelwatch/internal/relay"
)

func main() {
	wsURL := flag.String("ws", os.Getenv("EVENTS_URL"), "websocket URL, e.g. ws://localhost:8080/v1/events")
	token := flag.String("token", os.Getenv("TOKEN"), "bearer token for the websocket")
	redisURL := flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL, used when -ws is empty")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *wsURL != "" {
		tailWebsocket(ctx, *wsURL, *token, enc)
		return
	}
	tailRedis(ctx, *redisURL, enc)
}

func tailWebsocket(ctx context.Context, url, token string, enc *json.Encoder) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	log.Printf("listening on %s", url)
	for {
		var evt relay.PollEvent
		if err := c.ReadJSON(&evt); err != nil {
			if ctx.Err() == nil {
				log.Printf("read: %v", err)
			}
			return
		}
		_ = enc.Encode(evt)
	}
}

func tailRedis(ctx context.Context, url string, enc *json.Encoder) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	r, err := relay.NewRedis(url, os.Getenv("REDIS_CHANNEL"), "", nil)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer r.Close()
	if err := r.Ping(ctx); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	events, err := r.Subscribe(ctx)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Printf("listening on %s", url)
	for evt := range events {
		_ = enc.Encode(evt)
	}
}
