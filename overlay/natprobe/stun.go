package natprobe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// STUN protocol constants (RFC 5389).
const (
	stunMagicCookie = 0x2112A442
	stunHeaderSize  = 20

	stunBindingRequest  = 0x0001
	stunBindingResponse = 0x0101
	stunBindingError    = 0x0111

	stunAttrMappedAddress    = 0x0001
	stunAttrXorMappedAddress = 0x0020
)

// STUNClient discovers this host's publicly observed address by querying
// an external STUN server, the first step in classifying the local NAT.
type STUNClient struct {
	servers []string
	timeout time.Duration
}

// NewSTUNClient creates a client seeded with well-known public STUN
// servers.
func NewSTUNClient() *STUNClient {
	return &STUNClient{
		servers: []string{
			"stun.l.google.com:19302",
			"stun1.l.google.com:19302",
			"stun.stunprotocol.org:3478",
			"stun.cloudflare.com:3478",
		},
		timeout: 5 * time.Second,
	}
}

// SetServers replaces the candidate STUN server list.
func (sc *STUNClient) SetServers(servers []string) {
	sc.servers = append([]string(nil), servers...)
}

// SetTimeout sets the per-server query timeout.
func (sc *STUNClient) SetTimeout(timeout time.Duration) {
	sc.timeout = timeout
}

// DiscoverPublicAddress queries STUN servers in order and returns the
// first one that answers with this host's publicly observed address.
func (sc *STUNClient) DiscoverPublicAddress(ctx context.Context) (net.Addr, error) {
	var lastErr error
	for _, server := range sc.servers {
		addr, err := sc.querySTUNServer(ctx, server)
		if err == nil {
			return addr, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return nil, fmt.Errorf("natprobe: all STUN servers failed: %w", lastErr)
}

func (sc *STUNClient) querySTUNServer(ctx context.Context, server string) (net.Addr, error) {
	conn, err := net.DialTimeout("udp", server, sc.timeout)
	if err != nil {
		return nil, fmt.Errorf("natprobe: dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(sc.timeout))
	}

	transactionID := make([]byte, 12)
	if _, err := rand.Read(transactionID); err != nil {
		return nil, fmt.Errorf("natprobe: generate transaction id: %w", err)
	}

	request := buildBindingRequest(transactionID)
	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("natprobe: send binding request: %w", err)
	}

	response := make([]byte, 1024)
	n, err := conn.Read(response)
	if err != nil {
		return nil, fmt.Errorf("natprobe: read binding response: %w", err)
	}

	return parseBindingResponse(response[:n], transactionID)
}

func buildBindingRequest(transactionID []byte) []byte {
	packet := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(packet[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(packet[2:4], 0)
	binary.BigEndian.PutUint32(packet[4:8], stunMagicCookie)
	copy(packet[8:20], transactionID)
	return packet
}

func parseBindingResponse(response, expectedTransactionID []byte) (net.Addr, error) {
	if len(response) < stunHeaderSize {
		return nil, errors.New("natprobe: STUN response too short")
	}

	messageType := binary.BigEndian.Uint16(response[0:2])
	if messageType == stunBindingError {
		return nil, errors.New("natprobe: STUN server returned an error response")
	}
	if messageType != stunBindingResponse {
		return nil, fmt.Errorf("natprobe: unexpected STUN message type 0x%04x", messageType)
	}

	if binary.BigEndian.Uint32(response[4:8]) != stunMagicCookie {
		return nil, errors.New("natprobe: invalid STUN magic cookie")
	}

	responseTxID := response[8:20]
	for i := range expectedTransactionID {
		if responseTxID[i] != expectedTransactionID[i] {
			return nil, errors.New("natprobe: STUN transaction id mismatch")
		}
	}

	messageLength := binary.BigEndian.Uint16(response[2:4])
	start, end := stunHeaderSize, stunHeaderSize+int(messageLength)
	if len(response) < end {
		return nil, errors.New("natprobe: STUN response truncated")
	}

	return parseAttributes(response[start:end], expectedTransactionID)
}

func parseAttributes(attributes, transactionID []byte) (net.Addr, error) {
	offset := 0
	for offset < len(attributes) {
		if offset+4 > len(attributes) {
			break
		}
		attrType := binary.BigEndian.Uint16(attributes[offset : offset+2])
		attrLength := int(binary.BigEndian.Uint16(attributes[offset+2 : offset+4]))
		offset += 4
		if offset+attrLength > len(attributes) {
			break
		}
		attrValue := attributes[offset : offset+attrLength]

		switch attrType {
		case stunAttrXorMappedAddress:
			return parseXorMappedAddress(attrValue, transactionID)
		case stunAttrMappedAddress:
			return parseMappedAddress(attrValue)
		}

		offset += attrLength
		if offset%4 != 0 {
			offset += 4 - (offset % 4)
		}
	}
	return nil, errors.New("natprobe: no mapped address in STUN response")
}

func parseXorMappedAddress(attrValue, transactionID []byte) (net.Addr, error) {
	if len(attrValue) < 8 {
		return nil, errors.New("natprobe: XOR-mapped address too short")
	}
	family := binary.BigEndian.Uint16(attrValue[0:2])
	port := binary.BigEndian.Uint16(attrValue[2:4]) ^ uint16(stunMagicCookie>>16)

	switch family {
	case 0x01:
		address := binary.BigEndian.Uint32(attrValue[4:8]) ^ stunMagicCookie
		ip := net.IPv4(byte(address>>24), byte(address>>16), byte(address>>8), byte(address))
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case 0x02:
		if len(attrValue) < 20 {
			return nil, errors.New("natprobe: IPv6 XOR-mapped address too short")
		}
		xorKey := make([]byte, 16)
		binary.BigEndian.PutUint32(xorKey[0:4], stunMagicCookie)
		copy(xorKey[4:16], transactionID)
		ip := make(net.IP, 16)
		for i := range ip {
			ip[i] = attrValue[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	}
	return nil, fmt.Errorf("natprobe: unsupported address family %d", family)
}

func parseMappedAddress(attrValue []byte) (net.Addr, error) {
	if len(attrValue) < 8 {
		return nil, errors.New("natprobe: mapped address too short")
	}
	family := binary.BigEndian.Uint16(attrValue[0:2])
	port := binary.BigEndian.Uint16(attrValue[2:4])

	switch family {
	case 0x01:
		return &net.UDPAddr{IP: net.IP(attrValue[4:8]), Port: int(port)}, nil
	case 0x02:
		if len(attrValue) < 20 {
			return nil, errors.New("natprobe: IPv6 mapped address too short")
		}
		return &net.UDPAddr{IP: net.IP(attrValue[4:20]), Port: int(port)}, nil
	}
	return nil, fmt.Errorf("natprobe: unsupported address family %d", family)
}
