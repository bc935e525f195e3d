// Package auth implements the SHA-1 challenge/scramble/check helpers of
// spec §4.J, grounded on the native-password algorithm in
// original_source/dpm.c (my_scramble / my_check_scramble).
package auth

import (
	"crypto/sha1"
	"errors"
	"io"
)

// ScrambleLength is the fixed size of the server challenge and of a scramble
// response (spec §4.J).
const ScrambleLength = 20

// ErrShortChallenge is returned by CheckPass when the reply or the stored
// hash is not exactly ScrambleLength bytes long.
var ErrShortChallenge = errors.New("auth: reply or stored hash is not 20 bytes")

// NewChallenge draws a fresh 20-byte scramble from rng (spec §5
// SUPPLEMENTED FEATURES: "the handshake scramble is owned by the
// connection and drawn from a CSPRNG handle, not re-seeded per
// connection").
func NewChallenge(rng io.Reader) ([ScrambleLength]byte, error) {
	var out [ScrambleLength]byte
	if _, err := io.ReadFull(rng, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// CryptPass computes the scramble a client sends in response to a server
// challenge (spec §4.J):
//
//	stage1 = SHA1(password)
//	stage2 = SHA1(stage1)
//	token  = SHA1(challenge || stage2) XOR stage1
//
// An empty password yields a nil token, matching the wire representation of
// "no password" (spec §4.A auth packet: empty scramble).
func CryptPass(password []byte, challenge [ScrambleLength]byte) []byte {
	if len(password) == 0 {
		return nil
	}

	stage1 := sha1.Sum(password)
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(challenge[:])
	h.Write(stage2[:])
	inter := h.Sum(nil)

	token := make([]byte, ScrambleLength)
	for i := range token {
		token[i] = inter[i] ^ stage1[i]
	}

	zero(stage1[:])
	zero(stage2[:])
	zero(inter)
	return token
}

// CheckPass verifies a client-supplied scramble against the stored
// double-SHA1 password hash for the account, without ever recovering the
// plaintext password (spec §4.J):
//
//	stage1' = SHA1(challenge || storedStage2) XOR reply
//	ok      = SHA1(stage1') == storedStage2
func CheckPass(reply []byte, challenge [ScrambleLength]byte, storedStage2 []byte) (bool, error) {
	if len(reply) != ScrambleLength || len(storedStage2) != ScrambleLength {
		return false, ErrShortChallenge
	}

	h := sha1.New()
	h.Write(challenge[:])
	h.Write(storedStage2)
	inter := h.Sum(nil)

	stage1 := make([]byte, ScrambleLength)
	for i := range stage1 {
		stage1[i] = inter[i] ^ reply[i]
	}

	candidate := sha1.Sum(stage1)
	ok := constantTimeEqual(candidate[:], storedStage2)

	zero(inter)
	zero(stage1)
	zero(candidate[:])
	return ok, nil
}

// StoredStage2 computes the value a credential store holds for an account:
// SHA1(SHA1(password)). Never store the plaintext or the single-SHA1 stage.
func StoredStage2(password []byte) [ScrambleLength]byte {
	stage1 := sha1.Sum(password)
	stage2 := sha1.Sum(stage1[:])
	zero(stage1[:])
	return stage2
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// zero wipes a SHA-1 digest after use (spec §4.J design note: "SHA-1 state
// must be zeroed after use").
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
