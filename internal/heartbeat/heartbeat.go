// Package heartbeat publishes periodic worker-liveness heartbeats to Redis
// so a coordinator or fleet dashboard can see which workers are alive and
// how busy they are, without the worker needing to expose any inbound API
// of its own. Entirely optional: a worker started without a Redis URL
// simply never constructs a Heartbeat. Grounded on the reference platform's
// internal/worker.RedisHeartbeat, retargeted from sandbox capacity to
// concurrent-job capacity.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type payload struct {
	WorkerID string `json:"worker_id"`
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
}

// Heartbeat periodically SETs worker:{id} (30s TTL) and PUBLISHes to
// workers:heartbeat so watchers see updates in real time, not just on poll.
type Heartbeat struct {
	rdb      *redis.Client
	workerID string
	stop     chan struct{}
}

// New connects to redisURL and verifies reachability before returning.
func New(redisURL, workerID string) (*Heartbeat, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("heartbeat: redis ping failed: %w", err)
	}

	return &Heartbeat{rdb: rdb, workerID: workerID, stop: make(chan struct{})}, nil
}

// Start begins publishing heartbeats every 10 seconds, calling getStats
// (capacity, currently-active-jobs) at each tick.
func (h *Heartbeat) Start(getStats func() (capacity, active int)) {
	go func() {
		h.publish(getStats)

		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.publish(getStats)
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *Heartbeat) publish(getStats func() (int, int)) {
	capacity, active := getStats()
	data, err := json.Marshal(payload{WorkerID: h.workerID, Capacity: capacity, Active: active})
	if err != nil {
		log.Printf("heartbeat: marshal error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "worker:" + h.workerID
	if err := h.rdb.Set(ctx, key, data, 30*time.Second).Err(); err != nil {
		log.Printf("heartbeat: SET failed: %v", err)
	}
	if err := h.rdb.Publish(ctx, "workers:heartbeat", data).Err(); err != nil {
		log.Printf("heartbeat: PUBLISH failed: %v", err)
	}
}

// Stop stops the publish loop, deletes the worker's key, and closes the
// Redis connection.
func (h *Heartbeat) Stop() {
	close(h.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.rdb.Del(ctx, "worker:"+h.workerID)

	h.rdb.Close()
	log.Println("heartbeat: stopped")
}
