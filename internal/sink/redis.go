// Package sink republishes detection events to Redis pub/sub so other
// services on the host can react to faces without talking HTTP.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/events"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel   = "facecam:detections"
	DefaultLatestKey = "facecam:latest"
	DefaultQueueSize = 16
)

// Options configures a Publisher
type Options struct {
	Channel   string
	LatestKey string        // empty disables the latest-event key
	LatestTTL time.Duration // 0 keeps the key forever
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    *logger.Module
}

// Publisher queues events and publishes them from a single worker. Publish
// never blocks the caller; a full queue drops the event.
type Publisher struct {
	client  *redis.Client
	opts    Options
	queue   chan events.Event
	metrics *metrics.Metrics
	log     *logger.Module
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewPublisher creates a publisher on client
func NewPublisher(client *redis.Client, opts Options) *Publisher {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.For("Sink")
	}
	return &Publisher{
		client:  client,
		opts:    opts,
		queue:   make(chan events.Event, opts.QueueSize),
		metrics: opts.Metrics,
		log:     log,
	}
}

// Channel returns the pub/sub channel name
func (p *Publisher) Channel() string {
	return p.opts.Channel
}

// Publish enqueues e. It reports false when the queue is full.
func (p *Publisher) Publish(e events.Event) bool {
	select {
	case p.queue <- e:
		return true
	default:
		if p.metrics != nil {
			p.metrics.EventsDropped.Add(1)
		}
		return false
	}
}

// Run publishes queued events until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("Publishing detections to %s", p.opts.Channel)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue:
			if err := p.send(ctx, e); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("Publish frame %d failed: %v", e.FrameNumber, err)
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Add(1)
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, e events.Event) error {
	data, err := e.JSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.opts.Channel, data)
	if p.opts.LatestKey != "" {
		pipe.Set(ctx, p.opts.LatestKey, data, p.opts.LatestTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
