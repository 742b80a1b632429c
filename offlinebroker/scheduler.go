package offlinebroker

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseInterval = 60 * time.Second
	defaultJitterPercent = 20
	maxBackoffMultiplier = 4
)

// EnvelopeHandler is invoked with every envelope retrieval, real or empty.
type EnvelopeHandler func(envelopes []Envelope)

// Scheduler polls a Client on a periodic, jittered schedule and on explicit
// online transitions. Cover traffic (retrievals made solely to defeat
// storage-node activity correlation) is deliberately not implemented here,
// since this engine does not promise anonymity at the network layer.
type Scheduler struct {
	client *Client
	peerID string
	onPoll EnvelopeHandler

	baseInterval  time.Duration
	jitterPercent int

	mu               sync.Mutex
	running          bool
	stopChan         chan struct{}
	consecutiveEmpty int

	log *logrus.Entry
}

// NewScheduler creates a scheduler polling on behalf of peerID, delivering
// every retrieval (including empty ones) to onPoll.
func NewScheduler(client *Client, peerID string, onPoll EnvelopeHandler) *Scheduler {
	return &Scheduler{
		client:        client,
		peerID:        peerID,
		onPoll:        onPoll,
		baseInterval:  defaultBaseInterval,
		jitterPercent: defaultJitterPercent,
		log:           logrus.WithField("component", "offlinebroker.scheduler"),
	}
}

// SetInterval overrides the base polling interval and jitter percentage.
func (s *Scheduler) SetInterval(base time.Duration, jitterPercent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseInterval = base
	s.jitterPercent = jitterPercent
}

// Start begins the polling loop. Safe to call once; a second call is a
// no-op while already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the polling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

// TriggerOnlineTransition polls immediately, outside the regular periodic
// schedule, for use when the peer has just come back online.
func (s *Scheduler) TriggerOnlineTransition(ctx context.Context) {
	s.poll(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.mu.Lock()
	stop := s.stopChan
	s.mu.Unlock()

	for {
		interval := s.nextInterval()
		select {
		case <-time.After(interval):
			s.poll(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	envelopes, err := s.client.Retrieve(ctx, s.peerID, 0)

	s.mu.Lock()
	if err != nil || len(envelopes) == 0 {
		s.consecutiveEmpty++
	} else {
		s.consecutiveEmpty = 0
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("poll failed")
		return
	}
	if s.onPoll != nil {
		s.onPoll(envelopes)
	}
}

// nextInterval applies jitter to the base interval and backs off the
// effective interval (up to 4x) after several consecutive empty polls.
func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.baseInterval
	if s.consecutiveEmpty > 3 {
		multiplier := float64(s.consecutiveEmpty - 2)
		if multiplier > maxBackoffMultiplier {
			multiplier = maxBackoffMultiplier
		}
		interval = time.Duration(float64(interval) * multiplier)
	}

	if s.jitterPercent <= 0 {
		return interval
	}

	maxJitter := int64(float64(interval) * float64(s.jitterPercent) / 100.0)
	if maxJitter <= 0 {
		return interval
	}
	jitterBig, err := rand.Int(rand.Reader, big.NewInt(2*maxJitter))
	if err != nil {
		return interval
	}
	jitter := time.Duration(jitterBig.Int64() - maxJitter)
	return interval + jitter
}
