// Package group implements group chat metadata: membership, roles, and
// invitations. Sender-key cryptography for group messages lives in
// session.GroupSession; this package owns the roster and the broadcast
// fan-out of opaque group-state updates over an overlay pubsub topic.
package group

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/pubsub"
)

// ChatType distinguishes a text-only group from one that also carries
// voice traffic.
type ChatType uint8

const (
	ChatTypeText ChatType = iota
	ChatTypeVoice
)

// Privacy controls who may join a group.
type Privacy uint8

const (
	// PrivacyPublic means anyone who learns the group id can join.
	PrivacyPublic Privacy = iota
	// PrivacyPrivate means joining requires an explicit invitation.
	PrivacyPrivate
)

// Role is a member's authority level within a group.
type Role uint8

const (
	RoleUser Role = iota
	RoleModerator
	RoleAdmin
	RoleFounder
)

// PeerChangeType classifies a membership-roster event.
type PeerChangeType uint8

const (
	PeerChangeJoin PeerChangeType = iota
	PeerChangeLeave
	PeerChangeRoleChange
)

// MessageCallback is invoked after each group_message the local member
// sends through SendMessage. Inbound broadcasts do not invoke it; callers
// parse those with DecodeBroadcast.
type MessageCallback func(groupID string, sender crypto.PeerID, message string)

// PeerCallback is invoked on roster changes.
type PeerCallback func(groupID string, peer crypto.PeerID, changeType PeerChangeType)

// Member is one peer's standing within a group.
type Member struct {
	PeerID     crypto.PeerID
	Name       string
	Role       Role
	JoinedAt   time.Time
	LastActive time.Time
}

// Invitation is a pending invite extended to a peer not yet a member.
type Invitation struct {
	PeerID    crypto.PeerID
	GroupID   string
	Timestamp time.Time
	Expires   time.Time
}

const invitationTTL = 24 * time.Hour

// maxMessageBytes bounds a single group message payload at 1372 bytes, a
// tighter limit than the 64 KiB session.MaxPayloadSize that applies to 1:1
// chat.
const maxMessageBytes = 1372

// broadcastMessage is the JSON envelope carried over the group's pubsub
// topic for every roster or state change, keyed by groupID so a single
// subscriber handler (overlay/pubsub.Manager has no topic id of its own)
// can demultiplex inbound frames by payload contents.
type broadcastMessage struct {
	Type      string          `json:"type"`
	GroupID   string          `json:"group_id"`
	SenderID  string          `json:"sender_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Chat is one group's local view: roster, pending invitations, and the
// pubsub topic it broadcasts state changes over.
type Chat struct {
	mu sync.RWMutex

	id      string
	name    string
	typ     ChatType
	privacy Privacy
	created time.Time

	selfID  crypto.PeerID
	members map[crypto.PeerID]*Member

	pending map[crypto.PeerID]*Invitation

	topic *pubsub.Topic

	messageCallback MessageCallback
	peerCallback    PeerCallback

	log *logrus.Entry
}

// generateGroupID returns a random 128-bit hex identifier for a new group.
func generateGroupID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("group: generate id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Create starts a new group chat, registering its broadcast topic on
// topicManager and making self its founder.
func Create(name string, typ ChatType, privacy Privacy, self crypto.PeerID, topicManager *pubsub.Manager) (*Chat, error) {
	if name == "" {
		return nil, errors.New("group: name cannot be empty")
	}

	id, err := generateGroupID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chat := &Chat{
		id:      id,
		name:    name,
		typ:     typ,
		privacy: privacy,
		created: now,
		selfID:  self,
		members: map[crypto.PeerID]*Member{
			self: {PeerID: self, Role: RoleFounder, JoinedAt: now, LastActive: now},
		},
		pending: make(map[crypto.PeerID]*Invitation),
		topic:   topicManager.Topic(id),
		log:     logrus.WithFields(logrus.Fields{"component": "group", "group_id": id}),
	}
	chat.topic.Subscribe(&pubsub.Subscriber{PeerID: self})
	return chat, nil
}

// ID returns the group's identifier.
func (c *Chat) ID() string { return c.id }

// Name returns the group's current display name.
func (c *Chat) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Invite extends a pending invitation to peer. Callers deliver the actual
// invitation payload (group id, name, a 1:1-session-wrapped introduction
// to the sender-key chain) over an existing 1:1 session; this method only
// tracks invitation state and eligibility.
func (c *Chat) Invite(peer crypto.PeerID) (*Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[peer]; ok {
		return nil, errors.New("group: peer is already a member")
	}
	if _, ok := c.pending[peer]; ok {
		return nil, errors.New("group: peer already has a pending invitation")
	}

	now := time.Now()
	inv := &Invitation{PeerID: peer, GroupID: c.id, Timestamp: now, Expires: now.Add(invitationTTL)}
	c.pending[peer] = inv
	return inv, nil
}

// CleanupExpiredInvitations drops invitations past their expiry.
func (c *Chat) CleanupExpiredInvitations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for peer, inv := range c.pending {
		if now.After(inv.Expires) {
			delete(c.pending, peer)
		}
	}
}

// AddMember admits peer to the roster, registering it as a pubsub
// subscriber so future broadcasts reach it, and clears any pending
// invitation. The subscriber is registered by PeerID only, with no
// address.
func (c *Chat) AddMember(peer crypto.PeerID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.members[peer] = &Member{PeerID: peer, Name: name, Role: RoleUser, JoinedAt: now, LastActive: now}
	delete(c.pending, peer)
	c.topic.Subscribe(&pubsub.Subscriber{PeerID: peer})

	if c.peerCallback != nil {
		go c.peerCallback(c.id, peer, PeerChangeJoin)
	}
}

// SendMessage broadcasts a plaintext group-chat message to every member.
// Callers wanting end-to-end confidentiality seal the message through
// session.GroupSession first and pass the sealed bytes as message.
func (c *Chat) SendMessage(ctx context.Context, message string) error {
	if message == "" {
		return errors.New("group: message cannot be empty")
	}
	if len(message) > maxMessageBytes {
		return fmt.Errorf("group: message too long: maximum %d bytes", maxMessageBytes)
	}

	if err := c.broadcast(ctx, "group_message", map[string]any{"message": message}); err != nil {
		return err
	}

	c.mu.RLock()
	cb := c.messageCallback
	self := c.selfID
	c.mu.RUnlock()
	if cb != nil {
		go cb(c.id, self, message)
	}
	return nil
}

// Leave removes the local member from the group and broadcasts the
// departure so remaining members can rekey.
func (c *Chat) Leave(ctx context.Context) error {
	if err := c.broadcast(ctx, "peer_leave", map[string]any{"peer_id": c.selfID.String()}); err != nil {
		c.log.WithError(err).Warn("failed to broadcast departure")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, c.selfID)
	c.topic.Unsubscribe(c.selfID)
	return nil
}

// KickMember removes peer from the group, provided the local member outranks
// them, and broadcasts the removal. Per the group's rekey-on-removal policy
// the caller must rotate its own session.GroupSession sending chain
// afterward, since the removed member retains the old key.
func (c *Chat) KickMember(ctx context.Context, peer crypto.PeerID) error {
	c.mu.Lock()
	target, ok := c.members[peer]
	if !ok {
		c.mu.Unlock()
		return errors.New("group: peer not found")
	}
	self, ok := c.members[c.selfID]
	if !ok || self.Role < RoleModerator || self.Role <= target.Role {
		c.mu.Unlock()
		return errors.New("group: insufficient privileges to remove peer")
	}
	delete(c.members, peer)
	c.topic.Unsubscribe(peer)
	c.mu.Unlock()

	if err := c.broadcast(ctx, "peer_kick", map[string]any{"peer_id": peer.String(), "by": c.selfID.String()}); err != nil {
		return fmt.Errorf("group: broadcast kick: %w", err)
	}

	if c.peerCallback != nil {
		go c.peerCallback(c.id, peer, PeerChangeLeave)
	}
	return nil
}

// SetRole changes target's role, provided the local member outranks both
// target's current and requested roles.
func (c *Chat) SetRole(ctx context.Context, target crypto.PeerID, role Role) error {
	c.mu.Lock()
	member, ok := c.members[target]
	if !ok {
		c.mu.Unlock()
		return errors.New("group: peer not found")
	}
	self, ok := c.members[c.selfID]
	if !ok || self.Role < RoleAdmin || self.Role <= member.Role || role >= self.Role {
		c.mu.Unlock()
		return errors.New("group: insufficient privileges to change role")
	}
	if member.Role == RoleFounder {
		c.mu.Unlock()
		return errors.New("group: cannot change the founder's role")
	}
	member.Role = role
	c.mu.Unlock()

	if err := c.broadcast(ctx, "peer_role_change", map[string]any{"peer_id": target.String(), "role": role}); err != nil {
		return fmt.Errorf("group: broadcast role change: %w", err)
	}
	if c.peerCallback != nil {
		go c.peerCallback(c.id, target, PeerChangeRoleChange)
	}
	return nil
}

// SetName renames the group, provided the local member is at least an admin.
func (c *Chat) SetName(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("group: name cannot be empty")
	}
	c.mu.Lock()
	self, ok := c.members[c.selfID]
	if !ok || self.Role < RoleAdmin {
		c.mu.Unlock()
		return errors.New("group: insufficient privileges to rename group")
	}
	c.name = name
	c.mu.Unlock()

	return c.broadcast(ctx, "group_name_change", map[string]any{"name": name})
}

// Members returns a snapshot of the current roster.
func (c *Chat) Members() []*Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// MemberCount returns the current roster size.
func (c *Chat) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// OnMessage registers the callback invoked after each local SendMessage.
func (c *Chat) OnMessage(cb MessageCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCallback = cb
}

// OnPeerChange registers the callback invoked on roster changes.
func (c *Chat) OnPeerChange(cb PeerCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerCallback = cb
}

// broadcast publishes a tagged group-state update to every subscriber of
// the group's topic, using overlay/pubsub's bounded worker pool so one
// unreachable member cannot stall the rest.
func (c *Chat) broadcast(ctx context.Context, updateType string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("group: encode broadcast payload: %w", err)
	}

	msg := broadcastMessage{
		Type:      updateType,
		GroupID:   c.id,
		SenderID:  c.selfID.String(),
		Timestamp: time.Now(),
		Data:      payload,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("group: encode broadcast message: %w", err)
	}

	result, err := c.topic.Publish(ctx, body)
	c.log.WithFields(logrus.Fields{
		"type":      updateType,
		"delivered": result.Delivered,
		"failed":    len(result.Failed),
	}).Debug("broadcast group update")
	return err
}

// DecodeBroadcast parses an inbound frame published to a group topic,
// returning the update type, sender, and raw data for the caller to
// dispatch. This is how a pubsub.Manager's single MessageHandler
// demultiplexes group traffic by payload contents.
func DecodeBroadcast(payload []byte) (updateType string, groupID string, sender crypto.PeerID, data json.RawMessage, err error) {
	var msg broadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", "", "", nil, fmt.Errorf("group: decode broadcast: %w", err)
	}
	return msg.Type, msg.GroupID, crypto.PeerID(msg.SenderID), msg.Data, nil
}
