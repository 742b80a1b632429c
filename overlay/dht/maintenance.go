package dht

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
)

// MaintenanceConfig tunes how often a Maintainer pings known nodes, runs
// random lookups to refresh distant buckets, and prunes dead entries.
type MaintenanceConfig struct {
	PingInterval   time.Duration
	LookupInterval time.Duration
	PruneInterval  time.Duration
	NodeTimeout    time.Duration
}

// DefaultMaintenanceConfig matches the cadence Kademlia implementations
// typically use: frequent liveness pings, periodic random-target lookups
// to keep distant buckets populated, and a slower dead-node sweep.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		PingInterval:   60 * time.Second,
		LookupInterval: 5 * time.Minute,
		PruneInterval:  10 * time.Minute,
		NodeTimeout:    20 * time.Minute,
	}
}

// Maintainer runs the background routines that keep a RoutingTable
// populated with live nodes: periodic pings, periodic random-target
// lookups, and periodic pruning of nodes that stopped responding.
type Maintainer struct {
	table   *RoutingTable
	handler *Handler
	config  MaintenanceConfig

	mu           sync.Mutex
	lastActivity time.Time
	cancel       context.CancelFunc
}

// NewMaintainer creates a maintainer for table using handler to send
// pings and lookups.
func NewMaintainer(table *RoutingTable, handler *Handler, config MaintenanceConfig) *Maintainer {
	return &Maintainer{table: table, handler: handler, config: config, lastActivity: time.Now()}
}

// Start launches the maintainer's background routines. Stop ends them.
func (m *Maintainer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.pingRoutine(ctx)
	go m.lookupRoutine(ctx)
	go m.pruneRoutine(ctx)
}

// Stop ends the maintainer's background routines.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Maintainer) pingRoutine(ctx context.Context) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pingAllNodes()
		}
	}
}

func (m *Maintainer) pingAllNodes() {
	for _, node := range m.table.AllNodes() {
		node.RecordPingSent()
		if err := m.handler.Ping(node.Address); err != nil {
			logrus.WithFields(logrus.Fields{"component": "overlay/dht", "node": node.Address, "error": err}).Debug("maintenance ping failed")
		}
	}
}

func (m *Maintainer) lookupRoutine(ctx context.Context) {
	ticker := time.NewTicker(m.config.LookupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.lookupRandomTarget(ctx)
		}
	}
}

func (m *Maintainer) lookupRandomTarget(ctx context.Context) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return
	}
	target := crypto.NewPeerID(raw)
	if _, err := m.handler.FindNode(ctx, target); err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Debug("random lookup failed")
	}
}

func (m *Maintainer) pruneRoutine(ctx context.Context) {
	ticker := time.NewTicker(m.config.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := m.table.RemoveStaleNodes(m.config.NodeTimeout)
			if removed > 0 {
				logrus.WithFields(logrus.Fields{"component": "overlay/dht", "removed": removed}).Info("pruned stale routing table entries")
			}
		}
	}
}

// UpdateActivity records that the table saw application-driven activity
// (not just maintenance traffic), for diagnostics.
func (m *Maintainer) UpdateActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// LastActivity returns the time UpdateActivity was last called.
func (m *Maintainer) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}
