// Package idgen generates compact session identifiers for log
// correlation. IDs are 12 bytes (timestamp, node, sequence, random)
// base32-encoded to roughly 20 lowercase characters.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// nodeID distinguishes instances that share a log sink
	nodeID []byte
	// sequence disambiguates IDs generated within the same second
	sequence uint32

	base32Encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

func init() {
	nodeID = make([]byte, 3)
	if _, err := rand.Read(nodeID); err != nil {
		// Degrade to a hostname-derived node ID
		hostname, err := os.Hostname()
		if err != nil {
			copy(nodeID, fmt.Sprintf("%06x", time.Now().UnixNano())[:3])
		} else {
			padded := hostname + "\x00\x00\x00"
			copy(nodeID, padded[:3])
		}
	}
}

// New returns a fresh identifier. IDs generated by one process never
// repeat; IDs from different processes collide only if both the node
// bytes and the random bytes coincide.
func New() string {
	timestamp := uint32(time.Now().Unix())
	seq := atomic.AddUint32(&sequence, 1) & 0xFFFF

	randomBytes := make([]byte, 3)
	if _, err := rand.Read(randomBytes); err != nil {
		copy(randomBytes, fmt.Sprintf("%06x", time.Now().UnixNano())[:3])
	}

	id := make([]byte, 12)
	id[0] = byte(timestamp >> 24)
	id[1] = byte(timestamp >> 16)
	id[2] = byte(timestamp >> 8)
	id[3] = byte(timestamp)
	copy(id[4:7], nodeID)
	id[7] = byte(seq >> 8)
	id[8] = byte(seq)
	copy(id[9:12], randomBytes)

	return strings.ToLower(base32Encoding.EncodeToString(id))
}
