package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/sirupsen/logrus"
)

const publishProtocolID = "pubsub/publish/1.0.0"

// Subscriber is one recipient of a topic's published messages.
type Subscriber struct {
	PeerID  crypto.PeerID
	Address net.Addr
}

// DeliveryError reports that publishing to one subscriber failed.
type DeliveryError struct {
	PeerID crypto.PeerID
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("pubsub: delivery to %s failed: %v", e.PeerID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Result summarizes one Publish call across the topic's subscribers.
type Result struct {
	Delivered int
	Failed    []*DeliveryError
}

// Topic fans payloads out to a set of subscribers identified by peer id,
// the way a group chat's membership list receives every state update.
type Topic struct {
	id        string
	transport transport.Transport
	selfID    crypto.PeerID

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	log *logrus.Entry
}

// NewTopic creates a topic named id, publishing frames over t and
// identifying the local peer as self so it is never delivered to itself.
func NewTopic(id string, t transport.Transport, self crypto.PeerID) *Topic {
	return &Topic{
		id:          id,
		transport:   t,
		selfID:      self,
		subscribers: make(map[string]*Subscriber),
		log:         logrus.WithFields(logrus.Fields{"component": "pubsub", "topic": id}),
	}
}

// ID returns the topic's identifier.
func (t *Topic) ID() string { return t.id }

// Subscribe adds or replaces a subscriber.
func (t *Topic) Subscribe(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[string(sub.PeerID)] = sub
}

// Unsubscribe removes a subscriber, if present.
func (t *Topic) Unsubscribe(peerID crypto.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, string(peerID))
}

// Subscribers returns a snapshot of the current subscriber set.
func (t *Topic) Subscribers() []*Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		out = append(out, s)
	}
	return out
}

// Publish delivers payload to every subscriber other than self, using the
// default worker pool and per-delivery timeout. See PublishWithOptions to
// override either.
func (t *Topic) Publish(ctx context.Context, payload []byte) (Result, error) {
	return t.PublishWithOptions(ctx, payload)
}

// PublishWithOptions delivers payload to every subscriber other than self,
// fanning out across a bounded worker pool so one unreachable subscriber
// cannot stall the rest. An error is returned only when every delivery
// failed and there was at least one subscriber to deliver to; a topic with
// no other members publishes successfully with a zero Result.
func (t *Topic) PublishWithOptions(ctx context.Context, payload []byte, opts ...Option) (Result, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	recipients := t.recipientsExcludingSelf()
	if len(recipients) == 0 {
		return Result{}, nil
	}

	workers := cfg.MaxWorkers
	if len(recipients) < workers {
		workers = len(recipients)
	}

	jobs := make(chan *Subscriber, len(recipients))
	results := make(chan *DeliveryError, len(recipients))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				results <- t.deliver(ctx, cfg.Timeout, sub, payload)
			}
		}()
	}

	for _, sub := range recipients {
		jobs <- sub
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var res Result
	for de := range results {
		if de != nil {
			res.Failed = append(res.Failed, de)
			continue
		}
		res.Delivered++
	}

	t.log.WithFields(logrus.Fields{
		"delivered": res.Delivered,
		"failed":    len(res.Failed),
		"bytes":     len(payload),
	}).Debug("publish complete")

	if res.Delivered == 0 && len(res.Failed) > 0 {
		return res, fmt.Errorf("pubsub: publish to topic %q failed for all %d subscribers", t.id, len(res.Failed))
	}
	return res, nil
}

func (t *Topic) recipientsExcludingSelf() []*Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		if s.PeerID == t.selfID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// deliver sends payload to one subscriber, bounding the attempt to timeout.
func (t *Topic) deliver(ctx context.Context, timeout time.Duration, sub *Subscriber, payload []byte) *DeliveryError {
	done := make(chan error, 1)
	go func() {
		done <- t.transport.Send(publishProtocolID, payload, sub.Address)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &DeliveryError{PeerID: sub.PeerID, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &DeliveryError{PeerID: sub.PeerID, Err: ctx.Err()}
	case <-time.After(timeout):
		return &DeliveryError{PeerID: sub.PeerID, Err: errors.New("delivery timed out")}
	}
}
