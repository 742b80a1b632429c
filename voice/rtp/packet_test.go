package rtp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/pion/rtp"
)

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestPacketizeAndSendRoundTripsThroughDepacketizer(t *testing.T) {
	sender := newLoopbackUDP(t)
	receiver := newLoopbackUDP(t)

	depacketizer := NewAudioDepacketizer()
	received := make(chan []byte, 4)

	receiver.RegisterHandler(AudioProtocolID, func(payload []byte, _ net.Addr) {
		data, _, err := depacketizer.ProcessPacket(payload)
		if err == nil {
			received <- data
		}
	})

	packetizer, err := NewAudioPacketizer(48000, sender, receiver.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, packetizer.PacketizeAndSend([]byte("opus-frame-1"), 960))
	require.NoError(t, packetizer.PacketizeAndSend([]byte("opus-frame-2"), 960))

	select {
	case data := <-received:
		assert.Equal(t, []byte("opus-frame-1"), data)
	case <-time.After(time.Second):
		t.Fatal("first audio frame never arrived")
	}
	select {
	case data := <-received:
		assert.Equal(t, []byte("opus-frame-2"), data)
	case <-time.After(time.Second):
		t.Fatal("second audio frame never arrived")
	}
}

func TestAudioPacketizerRejectsMissingInputs(t *testing.T) {
	tr := newLoopbackUDP(t)
	_, err := NewAudioPacketizer(0, tr, tr.LocalAddr())
	assert.Error(t, err)

	_, err = NewAudioPacketizer(48000, nil, tr.LocalAddr())
	assert.Error(t, err)

	_, err = NewAudioPacketizer(48000, tr, nil)
	assert.Error(t, err)
}

func TestAudioDepacketizerRejectsUnexpectedSSRC(t *testing.T) {
	d := NewAudioDepacketizer()

	first := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: 1, SequenceNumber: 1}, Payload: []byte("a")}
	firstBytes, err := first.Marshal()
	require.NoError(t, err)
	_, _, err = d.ProcessPacket(firstBytes)
	require.NoError(t, err)

	second := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: 2, SequenceNumber: 2}, Payload: []byte("b")}
	secondBytes, err := second.Marshal()
	require.NoError(t, err)
	_, _, err = d.ProcessPacket(secondBytes)
	assert.Error(t, err)
}

func TestAudioDepacketizerRejectsEmptyPacket(t *testing.T) {
	d := NewAudioDepacketizer()
	_, _, err := d.ProcessPacket(nil)
	assert.Error(t, err)
}

// fakeClock is an injectable TimeProvider for deterministic jitter-buffer tests.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestJitterBufferOrdersByTimestampAndReleasesAfterBufferTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	jb := NewJitterBufferWithTimeProvider(20*time.Millisecond, clock)

	jb.Add(30, []byte("c"))
	jb.Add(10, []byte("a"))
	jb.Add(20, []byte("b"))
	assert.Equal(t, 3, jb.Len())

	_, ok := jb.Get()
	assert.False(t, ok, "buffer time hasn't elapsed yet")

	clock.now = clock.now.Add(25 * time.Millisecond)
	data, ok := jb.Get()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data, "oldest timestamp must be released first regardless of insertion order")
}

func TestJitterBufferEvictsOldestWhenOverCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	jb := NewJitterBufferWithOptions(time.Millisecond, 2, clock)

	jb.Add(1, []byte("first"))
	jb.Add(2, []byte("second"))
	jb.Add(3, []byte("third"))

	assert.Equal(t, 2, jb.Len(), "adding past capacity must evict, not grow unbounded")

	clock.now = clock.now.Add(time.Millisecond)
	data, ok := jb.Get()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data, "oldest (timestamp 1) was evicted to make room for the third packet")
}

func TestSessionSendAndReceiveRoundTrip(t *testing.T) {
	aTransport := newLoopbackUDP(t)
	bTransport := newLoopbackUDP(t)

	sessionA, err := NewSession("call-1", aTransport, bTransport.LocalAddr())
	require.NoError(t, err)
	t.Cleanup(func() { sessionA.Close() })

	received := make(chan []byte, 1)
	bTransport.RegisterHandler(AudioProtocolID, func(payload []byte, _ net.Addr) {
		received <- payload
	})

	require.NoError(t, sessionA.SendAudioPacket([]byte("hello"), 960))

	var raw []byte
	select {
	case raw = <-received:
	case <-time.After(time.Second):
		t.Fatal("audio packet never reached the receiver")
	}

	sessionB, err := NewSession("call-1", bTransport, aTransport.LocalAddr())
	require.NoError(t, err)
	t.Cleanup(func() { sessionB.Close() })

	data, err := sessionB.ReceivePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	stats := sessionA.GetStatistics()
	assert.Equal(t, uint64(1), stats.PacketsSent)
}
