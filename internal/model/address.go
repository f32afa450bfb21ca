package model

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidAddress reports whether s parses as a 20-byte hex wallet address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Checksum normalizes a wallet address to its checksummed form.
func Checksum(s string) string {
	return common.HexToAddress(s).Hex()
}

// IsRoomID reports whether s names a room rather than a wallet. A string
// containing "-" is assumed to be a roomId.
func IsRoomID(s string) bool {
	return strings.Contains(s, "-")
}

// RoomID is the canonical join of the participants' checksummed addresses,
// lexicographically sorted. RoomID(a, b) == RoomID(b, a).
func RoomID(participants ...string) string {
	sorted := make([]string, len(participants))
	for i, p := range participants {
		sorted[i] = Checksum(p)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

// RoomParticipants splits a roomId back into its checksummed addresses.
func RoomParticipants(roomID string) []string {
	return strings.Split(roomID, "-")
}

// MessageHash identifies an emitted message for read/unread bookkeeping
// and emission dedup.
func MessageHash(roomID string, index int) string {
	return roomID + "." + strconv.Itoa(index)
}
