package commands

import "github.com/roundstep/roundstep/crypto"

// randomChainIDSuffix returns a short random identifier suitable for
// distinguishing freshly generated chains.
func randomChainIDSuffix() string {
	return crypto.CRandHex(6)
}
