package crypto

import "fmt"

// SignatureLength is the size of an r || s || v secp256k1 signature.
const SignatureLength = 65

// SplitSignature breaks a 65-byte signature into the r, s and v arguments
// the settlement contract's ecrecover call takes.
func SplitSignature(sig []byte) (r, s [32]byte, v uint8, err error) {
	if len(sig) != SignatureLength {
		return r, s, 0, fmt.Errorf("crypto: signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	return r, s, sig[64], nil
}

// JoinSignature is the inverse of SplitSignature.
func JoinSignature(r, s [32]byte, v uint8) []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, r[:]...)
	out = append(out, s[:]...)
	return append(out, v)
}
