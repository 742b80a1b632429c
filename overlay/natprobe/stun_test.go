package natprobe

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSTUNServer answers every binding request with a fixed XOR-mapped
// address reflecting observedAddr, mimicking a real STUN server's
// behavior without needing network access.
func fakeSTUNServer(t *testing.T, observedAddr func(from *net.UDPAddr) *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < stunHeaderSize {
				continue
			}
			txID := append([]byte(nil), buf[8:20]...)
			mapped := observedAddr(from)
			resp := buildBindingResponse(txID, mapped)
			conn.WriteToUDP(resp, from)
		}
	}()

	return conn.LocalAddr().String()
}

func buildBindingResponse(txID []byte, mapped *net.UDPAddr) []byte {
	attr := make([]byte, 8)
	binary.BigEndian.PutUint16(attr[0:2], 0x01) // IPv4
	port := uint16(mapped.Port) ^ uint16(stunMagicCookie>>16)
	binary.BigEndian.PutUint16(attr[2:4], port)
	ip4 := mapped.IP.To4()
	addr := binary.BigEndian.Uint32(ip4) ^ uint32(stunMagicCookie)
	binary.BigEndian.PutUint32(attr[4:8], addr)

	attrHeader := make([]byte, 4)
	binary.BigEndian.PutUint16(attrHeader[0:2], stunAttrXorMappedAddress)
	binary.BigEndian.PutUint16(attrHeader[2:4], uint16(len(attr)))

	body := append(attrHeader, attr...)

	header := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], stunBindingResponse)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(header[4:8], stunMagicCookie)
	copy(header[8:20], txID)

	return append(header, body...)
}

func TestSTUNClientDiscoverPublicAddress(t *testing.T) {
	observed := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 4242}
	server := fakeSTUNServer(t, func(from *net.UDPAddr) *net.UDPAddr { return observed })

	client := NewSTUNClient()
	client.SetServers([]string{server})
	client.SetTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr, err := client.DiscoverPublicAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, observed.String(), addr.String())
}

func TestSTUNClientFallsBackAcrossServers(t *testing.T) {
	observed := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 9000}
	good := fakeSTUNServer(t, func(from *net.UDPAddr) *net.UDPAddr { return observed })

	client := NewSTUNClient()
	client.SetServers([]string{"127.0.0.1:1", good})
	client.SetTimeout(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr, err := client.DiscoverPublicAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, observed.String(), addr.String())
}
