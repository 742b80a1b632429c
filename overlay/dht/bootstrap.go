package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
)

// BootstrapNode is a well-known node used to seed an otherwise-empty
// routing table.
type BootstrapNode struct {
	Address  net.Addr
	PeerID   crypto.PeerID
	LastUsed time.Time
}

// Bootstrapper seeds and re-seeds a RoutingTable from a configured set of
// bootstrap nodes.
type Bootstrapper struct {
	handler *Handler
	table   *RoutingTable

	mu    sync.Mutex
	nodes []*BootstrapNode
}

// NewBootstrapper creates a bootstrapper that uses handler to ping
// candidate nodes and populate table.
func NewBootstrapper(handler *Handler, table *RoutingTable) *Bootstrapper {
	return &Bootstrapper{handler: handler, table: table}
}

// AddNode registers a bootstrap node candidate.
func (b *Bootstrapper) AddNode(addr net.Addr, peerID crypto.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, &BootstrapNode{Address: addr, PeerID: peerID})
}

// Nodes returns a snapshot of the configured bootstrap nodes.
func (b *Bootstrapper) Nodes() []*BootstrapNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*BootstrapNode, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Bootstrap pings every configured bootstrap node, adding each one whose
// ping was sent without error to the table (no reply is awaited), then runs
// a find-node lookup for the local id to pull in its neighbors. Returns an
// error only if the ping to every configured node failed to send.
func (b *Bootstrapper) Bootstrap(ctx context.Context, selfID crypto.PeerID) error {
	nodes := b.Nodes()
	if len(nodes) == 0 {
		return errors.New("dht: no bootstrap nodes configured")
	}

	var wg sync.WaitGroup
	successCh := make(chan *BootstrapNode, len(nodes))
	for _, bn := range nodes {
		wg.Add(1)
		go func(bn *BootstrapNode) {
			defer wg.Done()
			if err := b.handler.Ping(bn.Address); err != nil {
				logrus.WithFields(logrus.Fields{"component": "overlay/dht", "node": bn.Address, "error": err}).Warn("bootstrap ping failed")
				return
			}
			b.table.AddNode(NewNode(bn.PeerID, bn.Address))
			bn.LastUsed = time.Now()
			successCh <- bn
		}(bn)
	}

	go func() {
		wg.Wait()
		close(successCh)
	}()

	successful := 0
	for range successCh {
		successful++
	}
	if successful == 0 {
		return fmt.Errorf("dht: failed to reach any of %d bootstrap nodes", len(nodes))
	}

	if _, err := b.handler.FindNode(ctx, selfID); err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Warn("post-bootstrap find-node failed")
	}
	return nil
}
