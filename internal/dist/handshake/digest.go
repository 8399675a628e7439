package handshake

import (
	"crypto/md5"
	"strconv"
	"time"
)

// Digest computes MD5(cookie ++ decimal-string(challenge)), the value
// exchanged in both directions of the challenge/reply/ack sequence
// (SPEC_FULL.md §4.5), grounded on original_source/edp_client/digest.rs.
func Digest(challenge uint32, cookie string) [16]byte {
	h := md5.New()
	h.Write([]byte(cookie))
	h.Write([]byte(strconv.FormatUint(uint64(challenge), 10)))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// generateChallenge produces a fresh 32-bit nonce for our side of the
// challenge exchange, grounded on
// original_source/edp_client/digest.rs's generate_challenge (nanos
// truncated to 32 bits).
func generateChallenge() uint32 {
	return uint32(time.Now().UnixNano() & 0xFFFFFFFF)
}

