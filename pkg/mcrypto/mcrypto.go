// Package mcrypto implements the key-derivation and authentication
// primitives MPTCP needs (RFC 6824 §3.2): truncated SHA-1 digests of a
// session key, and truncated/full HMAC-SHA1 tags over the random
// nonces exchanged during MP_JOIN.
package mcrypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
)

// Sha1Low64 returns the low 64 bits of SHA-1(key), with key encoded as
// 8 bytes in network byte order. Used to derive a side's IDSN.
func Sha1Low64(key uint64) uint64 {
	digest := sum(key)
	return binary.BigEndian.Uint64(digest[len(digest)-8:])
}

// Sha1Low32 returns the low 32 bits of SHA-1(key), with key encoded as
// 8 bytes in network byte order. This is the MP_JOIN token.
func Sha1Low32(key uint64) uint32 {
	digest := sum(key)
	return binary.BigEndian.Uint32(digest[len(digest)-4:])
}

func sum(key uint64) [sha1.Size]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return sha1.Sum(buf[:])
}

// HMACKey is the 16-byte key used for the MP_JOIN HMAC-SHA1, formed by
// concatenating the two sides' 64-bit keys. The ordering of the two
// halves is direction-dependent and is the caller's responsibility to
// get right; HMACKey just lays out whatever two halves it is given.
type HMACKey [16]byte

// NewHMACKey concatenates first and second (each a 64-bit key, network
// byte order) into the 16-byte HMAC key.
func NewHMACKey(first, second uint64) HMACKey {
	var k HMACKey
	binary.BigEndian.PutUint64(k[0:8], first)
	binary.BigEndian.PutUint64(k[8:16], second)
	return k
}

// HMACMsg is the 8-byte message used for the MP_JOIN HMAC, formed by
// concatenating two 32-bit random nonces. Ordering is direction
// dependent, same caveat as HMACKey.
func HMACMsg(first, second uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], first)
	binary.BigEndian.PutUint32(buf[4:8], second)
	return buf
}

// HMACSHA1Trunc64 returns the first 8 bytes of HMAC-SHA1(key, msg), as
// used in the MP_JOIN SYN/ACK's truncated sender HMAC field.
func HMACSHA1Trunc64(key HMACKey, msg []byte) uint64 {
	full := hmacFull(key, msg)
	return binary.BigEndian.Uint64(full[:8])
}

// HMACSHA1Full returns the complete 20-byte HMAC-SHA1(key, msg) tag, as
// placed verbatim (no byte-swap) into the MP_JOIN ACK's sender_hmac
// field.
func HMACSHA1Full(key HMACKey, msg []byte) [sha1.Size]byte {
	return hmacFull(key, msg)
}

func hmacFull(key HMACKey, msg []byte) [sha1.Size]byte {
	mac := hmac.New(sha1.New, key[:])
	mac.Write(msg)
	var out [sha1.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}
