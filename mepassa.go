// Package mepassa is the public facade for the peer-to-peer encrypted
// messaging engine: identity lifecycle, overlay networking, double-ratchet
// sessions, group chat, and voice calling, wired together behind a single
// Engine and a callback-free event stream, in the spirit of the teacher's
// single-constructor Tox facade.
//
// Example:
//
//	opts := mepassa.NewOptions()
//	opts.DataDir = "/var/lib/mepassa"
//
//	engine, err := mepassa.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	go func() {
//	    for ev := range engine.Events() {
//	        switch ev.Kind {
//	        case mepassa.EventMessageReceived:
//	            fmt.Printf("%s: %s\n", ev.Peer, ev.Body)
//	        }
//	    }
//	}()
//
//	engine.ListenOn("0.0.0.0:0")
//	engine.Bootstrap(context.Background())
package mepassa

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/connmgr"
	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/group"
	"github.com/edsonmartins/mepassa/handshake"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/message"
	"github.com/edsonmartins/mepassa/offlinebroker"
	"github.com/edsonmartins/mepassa/overlay/dht"
	"github.com/edsonmartins/mepassa/overlay/natprobe"
	"github.com/edsonmartins/mepassa/overlay/pubsub"
	"github.com/edsonmartins/mepassa/overlay/relay"
	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/edsonmartins/mepassa/session"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/voice"
	"github.com/edsonmartins/mepassa/wire"
)

const framesProtocolID = "mepassa/frame/1.0.0"

// Engine is one running instance of the messaging stack bound to a single
// local identity. All exported methods are safe for concurrent use.
type Engine struct {
	opts *Options

	self    *identity.Identity
	prekeys *identity.PreKeyStore
	store   *store.Store

	udp       *transport.UDPTransport
	secure    *transport.SecureChannel
	identify  *transport.IdentifyService
	prober    *natprobe.Prober
	holePunch *relay.HolePuncher
	relay     *relay.Client
	connMgr   *connmgr.Manager

	table        *dht.RoutingTable
	dhtHandler   *dht.Handler
	bootstrapper *dht.Bootstrapper
	maintainer   *dht.Maintainer

	handshakeMgr *handshake.Manager
	msgHandler   *message.Handler
	voiceMgr     *voice.Manager
	pubsubMgr    *pubsub.Manager
	broker       *offlinebroker.Client
	scheduler    *offlinebroker.Scheduler
	nonces       *crypto.NonceStore

	mu         sync.Mutex
	peerAddrs  map[crypto.PeerID]net.Addr
	peerDHKeys map[crypto.PeerID][32]byte
	peerInfo   map[crypto.PeerID]transport.PeerInfo
	groups     map[string]*group.Chat

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	log *logrus.Entry
}

// senderAdapter implements both message.Sender and voice.Sender against a
// single Engine, since the two interfaces share an identical shape: find
// the peer's address, establish the transport-level secure channel if
// needed, and hand the frame to either the relay client or the raw
// transport depending on what connmgr.Connect resolved.
type senderAdapter struct {
	e *Engine
}

func (a *senderAdapter) Send(peer crypto.PeerID, frame *wire.Frame) error {
	return a.e.sendFrame(peer, frame)
}

// New loads or generates the local identity under opts.DataDir and opens
// the local store, but does not touch the network: call ListenOn to bind
// a socket and wire the overlay stack, then Bootstrap to join the DHT.
func New(opts *Options) (*Engine, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("mepassa: Options.DataDir is required")
	}

	log := logrus.WithField("component", "mepassa")

	self, err := identity.LoadOrGenerate(opts.DataDir, opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("mepassa: load identity: %w", err)
	}

	prekeys, err := identity.OpenPreKeyStore(self)
	if err != nil {
		return nil, fmt.Errorf("mepassa: open prekey store: %w", err)
	}

	st, err := store.Open(filepath.Join(opts.DataDir, "mepassa.db"))
	if err != nil {
		return nil, fmt.Errorf("mepassa: open store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		opts:       opts,
		self:       self,
		prekeys:    prekeys,
		store:      st,
		peerAddrs:  make(map[crypto.PeerID]net.Addr),
		peerDHKeys: make(map[crypto.PeerID][32]byte),
		peerInfo:   make(map[crypto.PeerID]transport.PeerInfo),
		groups:     make(map[string]*group.Chat),
		events:     make(chan Event, eventBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}, nil
}

// bindUDPRange tries every port in [start, end], returning the first
// successful bind, mirroring the teacher's New() port-scan loop.
func bindUDPRange(start, end uint16) (*transport.UDPTransport, error) {
	if start == 0 {
		start, end = 47100, 47200
	}
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port)))
		t, err := transport.NewUDPTransport(addr)
		if err == nil {
			return t, nil
		}
		if port == end {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no port available in range %d-%d", start, end)
}

// LocalPeerID returns the engine's own identifier.
func (e *Engine) LocalPeerID() crypto.PeerID { return e.self.PeerID }

// ListenAddress returns the local address bound by ListenOn, or nil if
// ListenOn has not been called yet.
func (e *Engine) ListenAddress() net.Addr {
	if e.udp == nil {
		return nil
	}
	return e.udp.LocalAddr()
}

// ListenOn binds the local UDP socket and wires every overlay and
// application-layer component against it: connection manager, DHT,
// handshake, message and voice handlers, pubsub, and — if
// Options.OfflineBrokerURL is set — the offline-broker scheduler. Pass ""
// to bind the first free port in [Options.StartPort, Options.EndPort];
// pass an explicit "host:port" to bind exactly that address. Must be
// called exactly once before Bootstrap or any send.
func (e *Engine) ListenOn(address string) error {
	var udp *transport.UDPTransport
	var err error
	if address == "" {
		udp, err = bindUDPRange(e.opts.StartPort, e.opts.EndPort)
	} else {
		udp, err = transport.NewUDPTransport(address)
	}
	if err != nil {
		return fmt.Errorf("mepassa: listen on %q: %w", address, err)
	}

	e.udp = udp
	e.secure = transport.NewSecureChannel(udp, e.self.DH.Private)
	e.identify = transport.NewIdentifyService(udp, e.localPeerInfo)
	e.prober = natprobe.NewProber()

	e.relay = relay.NewClient(e.self.PeerID.String(), udp)
	for _, rs := range e.opts.RelayServers {
		e.relay.AddServer(relay.ServerInfo{Address: rs.Address})
	}

	if hp, err := relay.NewHolePuncher(udp.LocalAddr().(*net.UDPAddr)); err == nil {
		e.holePunch = hp
	} else {
		e.log.WithError(err).Warn("hole punching unavailable, relay-only NAT traversal")
	}

	e.connMgr = connmgr.New(udp, e.holePunch, e.relay, e.prober)

	e.table = dht.NewRoutingTable(e.self.PeerID, dht.BucketSize)
	e.dhtHandler = dht.NewHandler(udp, e.table, e.self.PeerID)
	e.bootstrapper = dht.NewBootstrapper(e.dhtHandler, e.table)
	e.maintainer = dht.NewMaintainer(e.table, e.dhtHandler, dht.DefaultMaintenanceConfig())
	for _, bn := range e.opts.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", bn.Address)
		if err != nil {
			e.log.WithError(err).WithField("address", bn.Address).Warn("skipping malformed bootstrap node")
			continue
		}
		peerID, err := crypto.ParsePeerID(bn.PeerID)
		if err != nil {
			e.log.WithError(err).WithField("peer_id", bn.PeerID).Warn("skipping bootstrap node with malformed peer id")
			continue
		}
		e.bootstrapper.AddNode(addr, peerID)
	}

	e.handshakeMgr = handshake.NewManager(udp, e.self, e.prekeys, session.Options{})
	e.handshakeMgr.OnPeerIdentity(e.rememberPeerIdentity)
	e.handshakeMgr.OnSessionEstablished(func(peer crypto.PeerID, s *session.Session) {
		e.msgHandler.AddSession(peer, s)
	})

	sender := &senderAdapter{e: e}
	e.msgHandler = message.NewHandler(e.self.PeerID, sender, e.store)
	e.msgHandler.OnInboundMessage(e.onInboundMessage)
	e.msgHandler.OnSessionReset(e.onSessionReset)

	if ns, err := crypto.NewNonceStore(filepath.Join(e.opts.DataDir, "nonces")); err != nil {
		e.log.WithError(err).Warn("nonce store unavailable, frame-level replay detection disabled")
	} else {
		e.nonces = ns
		e.msgHandler.SetNonceStore(ns)
	}

	e.voiceMgr = voice.NewManager(e.self.PeerID, sender, e.store)
	e.voiceMgr.OnIncomingCall(e.onIncomingCall)
	e.voiceMgr.OnStateChanged(e.onCallStateChanged)

	e.pubsubMgr = pubsub.NewManager(udp, e.self.PeerID)

	if e.opts.OfflineBrokerURL != "" {
		e.broker = offlinebroker.NewClient(e.opts.OfflineBrokerURL, nil)
		e.msgHandler.SetOfflineBroker(e.broker)
		e.scheduler = offlinebroker.NewScheduler(e.broker, e.self.PeerID.String(), e.onOfflineEnvelope)
		e.scheduler.Start(e.ctx)
	}

	e.secure.RegisterHandler(framesProtocolID, e.handleInboundFrame)
	e.maintainer.Start()

	return nil
}

// Bootstrap pings the configured bootstrap nodes and runs a self-lookup to
// populate the routing table. The background maintenance goroutines
// (periodic ping/lookup/prune) are started by ListenOn, not here.
func (e *Engine) Bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.BootstrapTimeout)
	defer cancel()
	if err := e.bootstrapper.Bootstrap(ctx, e.self.PeerID); err != nil {
		return fmt.Errorf("mepassa: bootstrap: %w", err)
	}
	for _, n := range e.table.AllNodes() {
		e.mu.Lock()
		e.peerAddrs[n.ID] = n.Address
		e.mu.Unlock()
	}
	return nil
}

// ConnectedPeersCount reports the number of distinct peers currently
// reachable in the routing table.
func (e *Engine) ConnectedPeersCount() int {
	return e.table.TotalNodeCount()
}

// Export seals the local identity for backup, encrypted under key.
func (e *Engine) Export(key [32]byte) ([]byte, error) {
	return e.self.Export(key)
}

// Close stops background goroutines and releases the local store.
func (e *Engine) Close() error {
	e.cancel()
	if e.maintainer != nil {
		e.maintainer.Stop()
	}
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.nonces != nil {
		if err := e.nonces.Close(); err != nil {
			e.log.WithError(err).Warn("failed to persist nonce store on close")
		}
	}
	close(e.events)
	return e.store.Close()
}

// Events returns the channel every inbound notification is published on.
// The channel is closed when Close is called.
func (e *Engine) Events() <-chan Event { return e.events }

// --- messaging -------------------------------------------------------

// SendText encrypts and sends body to peer, establishing a session via a
// handshake round trip first if none exists yet, and creating the direct
// conversation record on first contact. Returns the persisted message id.
func (e *Engine) SendText(ctx context.Context, peer crypto.PeerID, body string) (string, error) {
	if err := e.ensureSession(ctx, peer); err != nil {
		return "", err
	}

	conv, err := e.store.GetDirectConversationByPeer(ctx, peer.String())
	if err != nil {
		conv = store.Conversation{ID: newConversationID(peer), Kind: "direct", PeerID: peer.String()}
		if err := e.store.CreateDirectConversation(ctx, conv.ID, peer.String(), time.Now().Unix()); err != nil {
			return "", fmt.Errorf("mepassa: create conversation: %w", err)
		}
	}

	return e.msgHandler.SendMessage(ctx, conv.ID, peer, body)
}

// GetConversation returns one page of a conversation's messages, oldest
// first, skipping offset rows before taking limit.
func (e *Engine) GetConversation(ctx context.Context, peer crypto.PeerID, limit, offset int) ([]store.Message, error) {
	conv, err := e.store.GetDirectConversationByPeer(ctx, peer.String())
	if err != nil {
		if err == store.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e.store.ListConversationMessagesPage(ctx, conv.ID, limit, offset)
}

// ListConversations returns every conversation, most recently created
// first.
func (e *Engine) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return e.store.ListConversations(ctx)
}

// MarkRead advances every message in the direct conversation with peer to
// the read state and sends a read receipt for the newest one.
func (e *Engine) MarkRead(ctx context.Context, peer crypto.PeerID) error {
	conv, err := e.store.GetDirectConversationByPeer(ctx, peer.String())
	if err != nil {
		if err == store.ErrNoRows {
			return nil
		}
		return err
	}
	if err := e.store.MarkConversationRead(ctx, conv.ID); err != nil {
		return err
	}
	msgs, err := e.store.ListConversationMessages(ctx, conv.ID, 1<<30)
	if err != nil || len(msgs) == 0 {
		return err
	}
	return e.msgHandler.SendReadReceipt(peer, msgs[len(msgs)-1].ID)
}

// Search runs a full-text search over stored message bodies.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	return e.store.SearchMessages(ctx, query, limit)
}

// --- groups ------------------------------------------------------------

// CreateGroup starts a new group chat and persists its metadata.
func (e *Engine) CreateGroup(ctx context.Context, name string, typ group.ChatType, privacy group.Privacy) (*group.Chat, error) {
	chat, err := group.Create(name, typ, privacy, e.self.PeerID, e.pubsubMgr)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateGroup(ctx, store.Group{ID: chat.ID(), Name: name, CreatedAt: time.Now().Unix()}); err != nil {
		return nil, fmt.Errorf("mepassa: persist group: %w", err)
	}
	if err := e.store.AddGroupMember(ctx, chat.ID(), e.self.PeerID.String(), time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("mepassa: persist founder membership: %w", err)
	}
	if err := e.store.CreateGroupConversation(ctx, newGroupConversationID(chat.ID()), chat.ID(), time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("mepassa: create group conversation: %w", err)
	}
	chat.OnMessage(e.onGroupMessage)

	e.mu.Lock()
	e.groups[chat.ID()] = chat
	e.mu.Unlock()
	return chat, nil
}

// AddMember adds peer to an existing group's roster.
func (e *Engine) AddMember(ctx context.Context, groupID string, peer crypto.PeerID, name string) error {
	chat, err := e.mustGroup(groupID)
	if err != nil {
		return err
	}
	chat.AddMember(peer, name)
	return e.store.AddGroupMember(ctx, groupID, peer.String(), time.Now().Unix())
}

// RemoveMember removes peer from a group's roster.
func (e *Engine) RemoveMember(ctx context.Context, groupID string, peer crypto.PeerID) error {
	chat, err := e.mustGroup(groupID)
	if err != nil {
		return err
	}
	if err := chat.KickMember(ctx, peer); err != nil {
		return err
	}
	return e.store.RemoveGroupMember(ctx, groupID, peer.String())
}

// SendGroup broadcasts body to every member of groupID.
func (e *Engine) SendGroup(ctx context.Context, groupID, body string) error {
	chat, err := e.mustGroup(groupID)
	if err != nil {
		return err
	}
	return chat.SendMessage(ctx, body)
}

func (e *Engine) mustGroup(groupID string) (*group.Chat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chat, ok := e.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("mepassa: unknown group %s", groupID)
	}
	return chat, nil
}

func (e *Engine) onGroupMessage(groupID string, sender crypto.PeerID, message string) {
	e.emit(Event{Kind: EventMessageReceived, Peer: sender, ConversationID: groupID, Body: message})
}

// --- voice ---------------------------------------------------------

// StartCall initiates a voice call to peer.
func (e *Engine) StartCall(ctx context.Context, peer crypto.PeerID) (string, error) {
	if err := e.ensureSession(ctx, peer); err != nil {
		return "", err
	}
	call, err := e.voiceMgr.StartCall(ctx, peer, 0)
	if err != nil {
		return "", err
	}
	return call.ID, nil
}

// AcceptCall answers a ringing inbound call.
func (e *Engine) AcceptCall(ctx context.Context, callID string) error {
	return e.voiceMgr.AcceptCall(ctx, callID)
}

// RejectCall declines a ringing inbound call.
func (e *Engine) RejectCall(ctx context.Context, callID string) error {
	return e.voiceMgr.RejectCall(ctx, callID)
}

// EndCall terminates an active or ringing call.
func (e *Engine) EndCall(ctx context.Context, callID string) error {
	return e.voiceMgr.EndCall(ctx, callID)
}

// ToggleMute flips the local mute state of an active call.
func (e *Engine) ToggleMute(callID string) (bool, error) {
	return e.voiceMgr.ToggleMute(callID)
}

func (e *Engine) onIncomingCall(call *voice.Call) {
	e.emit(Event{Kind: EventIncomingCall, Peer: call.Peer, Call: call})
}

func (e *Engine) onCallStateChanged(call *voice.Call) {
	e.emit(Event{Kind: EventCallStateChanged, Peer: call.Peer, Call: call})
}

// --- session / handshake plumbing --------------------------------------

func (e *Engine) ensureSession(ctx context.Context, peer crypto.PeerID) error {
	if e.msgHandler.HasSession(peer) {
		return nil
	}
	addr, err := e.addressFor(ctx, peer)
	if err != nil {
		return err
	}
	if err := e.identifyPeer(ctx, peer, addr); err != nil {
		return err
	}
	s, err := e.handshakeMgr.Initiate(ctx, peer, addr)
	if err != nil {
		return fmt.Errorf("mepassa: handshake with %s: %w", peer, err)
	}
	e.msgHandler.AddSession(peer, s)
	return nil
}

// localPeerInfo is what this Engine discloses to a peer's Identify request:
// the protocol version it speaks, the address it listens on, and the
// application protocols it can speak over that address.
func (e *Engine) localPeerInfo() transport.PeerInfo {
	return transport.PeerInfo{
		ProtocolVersion: transport.CurrentProtocolVersion,
		ListenAddrs:     []string{e.udp.LocalAddr().String()},
		Protocols:       []string{framesProtocolID, voice.SignalingProtocolID},
	}
}

// identifyPeer performs the Identify request/response round trip before the
// first handshake with peer, rejecting a peer speaking an incompatible
// protocol version before spending a handshake round trip on it. Cached
// once per peer process lifetime: Identify never needs repeating for a peer
// whose address hasn't changed since addressFor last resolved it.
func (e *Engine) identifyPeer(ctx context.Context, peer crypto.PeerID, addr net.Addr) error {
	e.mu.Lock()
	_, known := e.peerInfo[peer]
	e.mu.Unlock()
	if known {
		return nil
	}

	info, err := e.identify.Identify(ctx, addr)
	if err != nil {
		return fmt.Errorf("mepassa: identify %s: %w", peer, err)
	}
	if info.ProtocolVersion != transport.CurrentProtocolVersion {
		return fmt.Errorf("mepassa: peer %s speaks incompatible protocol version %d", peer, info.ProtocolVersion)
	}

	e.mu.Lock()
	e.peerInfo[peer] = info
	e.mu.Unlock()
	return nil
}

func (e *Engine) addressFor(ctx context.Context, peer crypto.PeerID) (net.Addr, error) {
	e.mu.Lock()
	addr, ok := e.peerAddrs[peer]
	e.mu.Unlock()
	if ok {
		return addr, nil
	}

	nodes, err := e.dhtHandler.FindNode(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("mepassa: locate %s: %w", peer, err)
	}
	for _, n := range nodes {
		if n.ID == peer {
			e.mu.Lock()
			e.peerAddrs[peer] = n.Address
			e.mu.Unlock()
			return n.Address, nil
		}
	}
	return nil, fmt.Errorf("mepassa: %w: %s not found via dht", errs.ErrUnreachable, peer)
}

func (e *Engine) rememberPeerIdentity(peer crypto.PeerID, signingKey ed25519.PublicKey, dhPublic [32]byte) {
	e.mu.Lock()
	e.peerDHKeys[peer] = dhPublic
	e.mu.Unlock()
	if err := e.store.UpdateContactDHKey(context.Background(), peer, dhPublic[:], time.Now().Unix()); err != nil {
		e.log.WithError(err).Warn("failed to persist peer identity key")
	}
}

// sendFrame is the seam message.Handler and voice.Manager send through: it
// resolves a connection strategy via connMgr.Connect, then routes through
// either the relay client or the Noise-authenticated SecureChannel,
// because a relay.PeerAddress can't be handed to a raw UDP socket send and
// SecureChannel.Send requires Dial to have already run once per peer.
func (e *Engine) sendFrame(peer crypto.PeerID, frame *wire.Frame) error {
	ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
	defer cancel()

	knownAddr, err := e.addressFor(ctx, peer)
	if err != nil {
		return err
	}
	addr, err := e.connMgr.Connect(ctx, peer.String(), knownAddr)
	if err != nil {
		return err
	}

	payload := frame.Marshal()

	if relayAddr, ok := addr.(*relay.PeerAddress); ok {
		return e.relay.RelayTo(relayAddr.PeerID, payload)
	}

	e.mu.Lock()
	dhKey, known := e.peerDHKeys[peer]
	e.mu.Unlock()
	if known {
		if err := e.secure.Dial(dhKey, addr); err != nil {
			return fmt.Errorf("mepassa: secure dial %s: %w", peer, err)
		}
		return e.secure.Send(framesProtocolID, payload, addr)
	}
	return e.udp.Send(framesProtocolID, payload, addr)
}

func (e *Engine) handleInboundFrame(payload []byte, _ net.Addr) {
	var frame wire.Frame
	if err := frame.Unmarshal(payload); err != nil {
		e.log.WithError(err).Debug("dropping malformed frame")
		return
	}
	peer, err := crypto.ParsePeerID(frame.Sender)
	if err != nil {
		e.log.WithError(err).Debug("dropping frame with malformed sender")
		return
	}
	e.processInboundFrame(peer, &frame)
}

// processInboundFrame dispatches a decoded frame to the voice signaling
// state machine or the chat message handler, creating the direct
// conversation record on first contact from a previously unknown peer.
// Shared by the live transport path and by envelopes replayed out of the
// offline broker once this peer comes back online.
func (e *Engine) processInboundFrame(peer crypto.PeerID, frame *wire.Frame) {
	ctx := e.ctx

	if frame.Type.IsSignaling() {
		if err := e.voiceMgr.HandleSignal(ctx, peer, frame); err != nil {
			e.log.WithError(err).WithField("peer", peer).Warn("voice signal handling failed")
		}
		return
	}

	conv, err := e.store.GetDirectConversationByPeer(ctx, peer.String())
	if err != nil {
		conv = store.Conversation{ID: newConversationID(peer)}
		if createErr := e.store.CreateDirectConversation(ctx, conv.ID, peer.String(), time.Now().Unix()); createErr != nil {
			e.log.WithError(createErr).Warn("failed to create inbound conversation")
			return
		}
	}
	if err := e.msgHandler.HandleInbound(ctx, peer, conv.ID, frame); err != nil {
		e.log.WithError(err).WithField("peer", peer).Warn("inbound frame handling failed")
	}
}

func (e *Engine) onInboundMessage(peer crypto.PeerID, conversationID, messageID, body string) {
	e.emit(Event{Kind: EventMessageReceived, Peer: peer, ConversationID: conversationID, MessageID: messageID, Body: body})
}

func (e *Engine) onSessionReset(peer crypto.PeerID, reason error) {
	e.log.WithFields(logrus.Fields{"peer": peer, "reason": reason}).Info("session reset, re-handshaking on next send")
}

// onOfflineEnvelope replays envelopes retrieved from the offline broker
// once this peer transitions back online, reconstructing the frame each
// one carried. Every envelope whose sender id parses is acknowledged,
// whether or not processing its frame succeeded, so none is redelivered.
func (e *Engine) onOfflineEnvelope(envelopes []offlinebroker.Envelope) {
	var acked []string
	for _, env := range envelopes {
		sender, err := crypto.ParsePeerID(env.SenderPeerID)
		if err != nil {
			e.log.WithError(err).Warn("dropping offline envelope with malformed sender")
			continue
		}
		frame := &wire.Frame{
			Type:             wire.TypeMessage,
			MessageID:        env.MessageID,
			Sender:           env.SenderPeerID,
			RecipientOrGroup: env.RecipientPeerID,
			TimestampMs:      uint64(time.Now().UnixMilli()),
			Ciphertext:       env.EncryptedPayload,
		}
		e.processInboundFrame(sender, frame)
		acked = append(acked, env.EnvelopeID)
	}
	if len(acked) == 0 {
		return
	}
	if err := e.broker.Acknowledge(e.ctx, acked); err != nil {
		e.log.WithError(err).Warn("failed to acknowledge delivered offline envelopes")
	}
}

func newConversationID(peer crypto.PeerID) string {
	return "direct:" + peer.String()
}

func newGroupConversationID(groupID string) string {
	return "group:" + groupID
}
