// Package encoding converts public keys between their in-memory interface
// form and the (type, bytes) representation used in genesis documents and
// persisted validator sets.
package encoding

import (
	"fmt"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/crypto/secp256k1"
)

// PubKeyToTypeAndBytes splits a public key into its type name and raw bytes.
func PubKeyToTypeAndBytes(k crypto.PubKey) (string, []byte, error) {
	if k == nil {
		return "", nil, fmt.Errorf("nil PubKey")
	}
	switch k := k.(type) {
	case ed25519.PubKey, secp256k1.PubKey:
		return k.Type(), k.Bytes(), nil
	default:
		return "", nil, fmt.Errorf("toTypeAndBytes: key type %v is not supported", k.Type())
	}
}

// PubKeyFromTypeAndBytes reconstructs a public key from its type name and raw
// bytes, the inverse of PubKeyToTypeAndBytes.
func PubKeyFromTypeAndBytes(keyType string, bytes []byte) (crypto.PubKey, error) {
	switch keyType {
	case ed25519.KeyType:
		if len(bytes) != ed25519.PubKeySize {
			return nil, fmt.Errorf("invalid size for PubKeyEd25519; got %d, expected %d",
				len(bytes), ed25519.PubKeySize)
		}
		pk := make(ed25519.PubKey, ed25519.PubKeySize)
		copy(pk, bytes)
		return pk, nil
	case secp256k1.KeyType:
		if len(bytes) != secp256k1.PubKeySize {
			return nil, fmt.Errorf("invalid size for PubKeySecp256k1; got %d, expected %d",
				len(bytes), secp256k1.PubKeySize)
		}
		pk := make(secp256k1.PubKey, secp256k1.PubKeySize)
		copy(pk, bytes)
		return pk, nil
	default:
		return nil, fmt.Errorf("fromTypeAndBytes: key type %q is not supported", keyType)
	}
}
