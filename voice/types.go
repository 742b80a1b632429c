package voice

import (
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/crypto"
)

// State is a call's position in the signaling state machine described in
// doc.go.
type State uint8

const (
	StateInitiating State = iota
	StateRinging
	StateConnecting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitiating:
		return "Initiating"
	case StateRinging:
		return "Ringing"
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// EndReason records why a call reached StateEnded.
type EndReason uint8

const (
	EndReasonNone EndReason = iota
	EndReasonNormal
	EndReasonNoAnswer
	EndReasonConnectFail
	EndReasonRejected
	EndReasonLocalHangup
	EndReasonRemoteHangup
	EndReasonError
)

func (r EndReason) String() string {
	switch r {
	case EndReasonNormal:
		return "Normal"
	case EndReasonNoAnswer:
		return "NoAnswer"
	case EndReasonConnectFail:
		return "ConnectFail"
	case EndReasonRejected:
		return "Rejected"
	case EndReasonLocalHangup:
		return "LocalHangup"
	case EndReasonRemoteHangup:
		return "RemoteHangup"
	case EndReasonError:
		return "Error"
	default:
		return "None"
	}
}

// Direction records which side initiated a call.
type Direction uint8

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// Codec bitrate bounds named by spec §4.7: "typical 24 kbps, configurable
// 6-128 kbps".
const (
	DefaultBitrateBps = 24000
	MinBitrateBps     = 6000
	MaxBitrateBps     = 128000
)

// Default timeouts named by spec §4.7.
const (
	DefaultRingTimeout    = 30 * time.Second
	DefaultConnectTimeout = 15 * time.Second
)

// Call is one peer-to-peer voice call's state.
type Call struct {
	mu sync.Mutex

	ID        string
	Peer      crypto.PeerID
	Direction Direction

	state     State
	endReason EndReason

	BitrateBps int
	muted      bool

	initiatedAt time.Time
	acceptedAt  time.Time
	endedAt     time.Time

	ringTimer    *time.Timer
	connectTimer *time.Timer
}

// State returns the call's current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EndReason returns why the call ended, or EndReasonNone if still in
// progress.
func (c *Call) EndReason() EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

// Muted reports whether the local side has muted outgoing audio.
func (c *Call) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// CallID derives the unique identifier for a call between caller and
// callee starting at startTime, satisfying spec §3's "unique per
// (caller, callee, start-time)" invariant.
func CallID(caller, callee crypto.PeerID, startTime time.Time) string {
	return string(caller) + ":" + string(callee) + ":" + startTime.UTC().Format(time.RFC3339Nano)
}
