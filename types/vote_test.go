package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/crypto/ed25519"
)

func examplePrevote(t *testing.T) *Vote {
	t.Helper()
	return exampleVote(t, PrevoteType)
}

func examplePrecommit(t *testing.T) *Vote {
	t.Helper()
	return exampleVote(t, PrecommitType)
}

func exampleVote(t *testing.T, msgType SignedMsgType) *Vote {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-01T12:00:00Z")
	require.NoError(t, err)

	return &Vote{
		Type:             msgType,
		Height:           12345,
		Round:            2,
		BlockID:          BlockID{Hash: crypto.Checksum([]byte("blockID_hash"))},
		Timestamp:        ts,
		ValidatorAddress: crypto.AddressHash([]byte("validator_address")),
		ValidatorIndex:   56789,
	}
}

func TestVoteSignBytesDeterministic(t *testing.T) {
	vote := examplePrevote(t)

	bz1 := vote.SignBytes(testChainID)
	bz2 := vote.SignBytes(testChainID)
	assert.Equal(t, bz1, bz2, "sign bytes must be a pure function of the vote")

	// a logically identical vote built independently yields identical bytes
	clone := vote.Copy()
	assert.Equal(t, bz1, clone.SignBytes(testChainID))
}

func TestVoteSignBytesDomainSeparation(t *testing.T) {
	vote := examplePrevote(t)
	base := vote.SignBytes(testChainID)

	// different chain
	assert.NotEqual(t, base, vote.SignBytes("other_chain"))

	// different type
	precommit := vote.Copy()
	precommit.Type = PrecommitType
	assert.NotEqual(t, base, precommit.SignBytes(testChainID))

	// different round
	other := vote.Copy()
	other.Round = 3
	assert.NotEqual(t, base, other.SignBytes(testChainID))

	// nil block
	nilVote := vote.Copy()
	nilVote.BlockID = BlockID{}
	assert.NotEqual(t, base, nilVote.SignBytes(testChainID))
}

func TestVoteVerify(t *testing.T) {
	privVal := NewMockPV()
	pubKey, err := privVal.GetPubKey()
	require.NoError(t, err)

	vote := examplePrevote(t)
	vote.ValidatorAddress = pubKey.Address()

	err = vote.Verify(testChainID, ed25519.GenPrivKey().PubKey())
	assert.ErrorIs(t, err, ErrVoteInvalidValidatorAddress)

	err = vote.Verify(testChainID, pubKey)
	assert.ErrorIs(t, err, ErrVoteInvalidSignature, "unsigned vote must not verify")

	require.NoError(t, privVal.SignVote(testChainID, vote))
	assert.NoError(t, vote.Verify(testChainID, pubKey))

	// signature does not transfer across chains
	assert.Error(t, vote.Verify("another_chain", pubKey))
}

func TestVoteValidateBasic(t *testing.T) {
	privVal := NewMockPV()

	testCases := []struct {
		name         string
		malleateVote func(*Vote)
		expectErr    bool
	}{
		{"Good Vote", func(v *Vote) {}, false},
		{"Invalid Type", func(v *Vote) { v.Type = ProposalType }, true},
		{"Negative Height", func(v *Vote) { v.Height = -1 }, true},
		{"Negative Round", func(v *Vote) { v.Round = -1 }, true},
		{"Invalid BlockID", func(v *Vote) {
			v.BlockID = BlockID{Hash: []byte{1, 2, 3}}
		}, true},
		{"Invalid Address", func(v *Vote) { v.ValidatorAddress = make([]byte, 1) }, true},
		{"Invalid ValidatorIndex", func(v *Vote) { v.ValidatorIndex = -1 }, true},
		{"Invalid Signature", func(v *Vote) { v.Signature = nil }, true},
		{"Too big Signature", func(v *Vote) { v.Signature = make([]byte, MaxSignatureSize+1) }, true},
		{"Nil vote is fine", func(v *Vote) { v.BlockID = BlockID{} }, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			vote := examplePrecommit(t)
			pubKey, err := privVal.GetPubKey()
			require.NoError(t, err)
			vote.ValidatorAddress = pubKey.Address()
			require.NoError(t, privVal.SignVote(testChainID, vote))
			tc.malleateVote(vote)
			assert.Equal(t, tc.expectErr, vote.ValidateBasic() != nil,
				"ValidateBasic for %s", tc.name)
		})
	}
}

func TestVoteCommitSig(t *testing.T) {
	var nilVote *Vote
	assert.True(t, nilVote.CommitSig().Absent())

	forBlock := examplePrecommit(t)
	forBlock.Signature = []byte("sig")
	cs := forBlock.CommitSig()
	assert.True(t, cs.ForBlock())
	assert.Equal(t, forBlock.ValidatorAddress, cs.ValidatorAddress)

	nilPrecommit := examplePrecommit(t)
	nilPrecommit.BlockID = BlockID{}
	nilPrecommit.Signature = []byte("sig")
	assert.Equal(t, BlockIDFlagNil, nilPrecommit.CommitSig().BlockIDFlag)
}

func TestVoteString(t *testing.T) {
	str := examplePrecommit(t).String()
	assert.Contains(t, str, "Precommit")

	var nilVote *Vote
	assert.Equal(t, nilVoteStr, nilVote.String())
}
