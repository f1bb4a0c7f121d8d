package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Sign signs a digest with the private key.
func Sign(priv *ecdsa.PrivateKey, digest []byte) (r, s *big.Int, err error) {
	return ecdsa.Sign(rand.Reader, priv, digest)
}

// Verify checks a signature of digest against pub.
func Verify(pub *ecdsa.PublicKey, digest []byte, r, s *big.Int) bool {
	return ecdsa.Verify(pub, digest, r, s)
}

// EncodeSignature returns a string representation of a signature.
func EncodeSignature(r, s *big.Int) string {
	return fmt.Sprintf("%s|%s", r.Text(36), s.Text(36))
}

// DecodeSignature parses a string representation of a signature as produced by
// EncodeSignature.
func DecodeSignature(sig string) (r, s *big.Int, err error) {
	values := strings.Split(sig, "|")
	if len(values) != 2 {
		return r, s, fmt.Errorf("wrong number of values in signature: got %d, want 2", len(values))
	}
	var ok bool
	if r, ok = new(big.Int).SetString(values[0], 36); !ok {
		return nil, nil, fmt.Errorf("invalid r value %q", values[0])
	}
	if s, ok = new(big.Int).SetString(values[1], 36); !ok {
		return nil, nil, fmt.Errorf("invalid s value %q", values[1])
	}
	return r, s, nil
}

// SignEncoded signs digest and encodes the result with EncodeSignature.
func SignEncoded(priv *ecdsa.PrivateKey, digest []byte) (string, error) {
	r, s, err := Sign(priv, digest)
	if err != nil {
		return "", err
	}
	return EncodeSignature(r, s), nil
}

// VerifyEncoded checks an encoded signature of digest against the uncompressed
// public key pub.
func VerifyEncoded(pub []byte, digest []byte, sig string) bool {
	pubKey := ToPublicKey(pub)
	if pubKey == nil {
		return false
	}
	r, s, err := DecodeSignature(sig)
	if err != nil {
		return false
	}
	return Verify(pubKey, digest, r, s)
}
