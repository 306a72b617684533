package encoding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/crypto/encoding"
	"github.com/roundstep/roundstep/crypto/secp256k1"
)

func TestPubKeyRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		key  crypto.PubKey
	}{
		{"ed25519", ed25519.GenPrivKey().PubKey()},
		{"secp256k1", secp256k1.GenPrivKey().PubKey()},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			keyType, bz, err := encoding.PubKeyToTypeAndBytes(tc.key)
			require.NoError(t, err)
			assert.Equal(t, tc.key.Type(), keyType)

			got, err := encoding.PubKeyFromTypeAndBytes(keyType, bz)
			require.NoError(t, err)
			assert.True(t, tc.key.Equals(got))
		})
	}
}

func TestPubKeyFromTypeAndBytesErrors(t *testing.T) {
	_, err := encoding.PubKeyFromTypeAndBytes("sr25519", make([]byte, 32))
	assert.Error(t, err)

	_, err = encoding.PubKeyFromTypeAndBytes(ed25519.KeyType, make([]byte, 31))
	assert.Error(t, err)

	_, _, err = encoding.PubKeyToTypeAndBytes(nil)
	assert.Error(t, err)
}
