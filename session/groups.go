package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/ratchet"
)

var (
	ErrUnknownSender = errors.New("session: message from peer with no known sender key")
	ErrNotMember     = errors.New("session: peer is not a member of this group")
)

// GroupMessage is what a group session produces on Seal and consumes on
// Open: the sender, its chain position at the time of sealing, and the
// ciphertext.
type GroupMessage struct {
	SenderID crypto.PeerID
	Counter  uint32
	Payload  []byte
}

// GroupSession holds one member's view of a group conversation: its own
// sending chain, and the receiving chain it has imported for every other
// member that has shared a sender key with it.
type GroupSession struct {
	mu       sync.Mutex
	groupID  string
	selfID   crypto.PeerID
	sending  *ratchet.SenderKeyChain
	members  map[crypto.PeerID]*ratchet.SenderKeyChain
}

// NewGroupSession creates a fresh sending chain for a member joining or
// creating a group.
func NewGroupSession(groupID string, self crypto.PeerID) (*GroupSession, error) {
	chain, err := ratchet.NewSenderKeyChain()
	if err != nil {
		return nil, fmt.Errorf("session: new group sender key: %w", err)
	}
	return &GroupSession{
		groupID: groupID,
		selfID:  self,
		sending: chain,
		members: make(map[crypto.PeerID]*ratchet.SenderKeyChain),
	}, nil
}

// OwnChainKey returns this member's current sending chain key and
// position, to be distributed to other members over their existing 1:1
// sessions.
func (g *GroupSession) OwnChainKey() ([32]byte, uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sending.ChainKey()
}

// ImportMemberKey records another member's sender key, received over a 1:1
// session, so this session can decrypt messages from them.
func (g *GroupSession) ImportMemberKey(member crypto.PeerID, chainKey [32]byte, counter uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[member] = ratchet.ImportSenderKeyChain(chainKey, counter)
}

// RemoveMember drops a departed member's receiving chain. Per the group's
// rekey-on-removal policy, the caller must also call Rekey to replace this
// member's own sending chain, since the removed member retains the old key.
func (g *GroupSession) RemoveMember(member crypto.PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, member)
}

// Rekey replaces this member's sending chain with a fresh one, for
// distribution to the remaining members after a removal.
func (g *GroupSession) Rekey() error {
	chain, err := ratchet.NewSenderKeyChain()
	if err != nil {
		return fmt.Errorf("session: rekey group sender key: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	logrus.WithFields(logrus.Fields{"component": "session", "group": g.groupID}).Info("rotated group sending chain")
	g.sending = chain
	return nil
}

// Seal encrypts plaintext under this member's current sending chain
// position.
func (g *GroupSession) Seal(plaintext []byte) (GroupMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	counter, ciphertext, err := g.sending.Seal(plaintext)
	if err != nil {
		return GroupMessage{}, fmt.Errorf("session: group seal: %w", err)
	}
	return GroupMessage{SenderID: g.selfID, Counter: counter, Payload: ciphertext}, nil
}

// Open decrypts a message from a known member, advancing that member's
// receiving chain to msg.Counter.
func (g *GroupSession) Open(msg GroupMessage) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	chain, ok := g.members[msg.SenderID]
	if !ok {
		return nil, ErrUnknownSender
	}
	return chain.OpenAt(msg.Counter, msg.Payload)
}
