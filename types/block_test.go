package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundstep/roundstep/crypto"
)

func makeTestCommit(t *testing.T, height int64, blockID BlockID) *Commit {
	t.Helper()
	valSet, privVals := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(testChainID, height, 0, PrecommitType, valSet)
	for i, pv := range privVals {
		vote, err := MakeVote(pv, testChainID, int32(i), height, 0,
			PrecommitType, blockID, time.Now())
		require.NoError(t, err)
		_, err = voteSet.AddVote(vote)
		require.NoError(t, err)
	}
	return voteSet.MakeCommit()
}

func makeTestBlock(t *testing.T, height int64, txs Txs, lastCommit *Commit) *Block {
	t.Helper()
	block := MakeBlock(height, txs, lastCommit)
	block.ChainID = testChainID
	block.Time = time.Now()
	if lastCommit != nil {
		block.LastBlockID = lastCommit.BlockID
	}
	block.LastCommitHash = lastCommit.Hash()
	block.DataHash = txs.Hash()
	block.ValidatorsHash = crypto.Checksum([]byte("validators"))
	block.ProposerAddress = crypto.AddressHash([]byte("proposer"))
	return block
}

func TestBlockIDBasics(t *testing.T) {
	var nilID BlockID
	assert.True(t, nilID.IsNil())
	assert.False(t, nilID.IsComplete())
	assert.NoError(t, nilID.ValidateBasic())
	assert.Equal(t, "nil", nilID.String())

	full := RandBlockID()
	assert.False(t, full.IsNil())
	assert.True(t, full.IsComplete())
	assert.NoError(t, full.ValidateBasic())
	assert.True(t, full.Equals(BlockID{Hash: full.Hash.Copy()}))
	assert.False(t, full.Equals(nilID))

	bad := BlockID{Hash: []byte{1, 2, 3}}
	assert.Error(t, bad.ValidateBasic())
}

func TestBlockHashDeterministic(t *testing.T) {
	lastCommit := makeTestCommit(t, 1, RandBlockID())
	block := makeTestBlock(t, 2, Txs{Tx("tx1"), Tx("tx2")}, lastCommit)

	h1 := block.Hash()
	require.NotNil(t, h1)
	assert.Equal(t, h1, block.Hash(), "hash must be stable")

	// any header mutation must change the hash
	block2 := makeTestBlock(t, 2, Txs{Tx("tx1"), Tx("tx2")}, lastCommit)
	block2.ProposerAddress = crypto.AddressHash([]byte("other proposer"))
	assert.NotEqual(t, h1, block2.Hash())

	assert.True(t, block.HashesTo(h1))
	assert.False(t, block.HashesTo(nil))
	assert.False(t, block.HashesTo(crypto.Checksum([]byte("other"))))
}

func TestBlockValidateBasic(t *testing.T) {
	lastCommit := makeTestCommit(t, 1, RandBlockID())

	testCases := []struct {
		name      string
		malleate  func(*Block)
		expectErr bool
	}{
		{"Good Block", func(b *Block) {}, false},
		{"Missing ChainID", func(b *Block) { b.ChainID = "" }, true},
		{"Zero Height", func(b *Block) { b.Height = 0 }, true},
		{"Tampered Data", func(b *Block) { b.Data = Txs{Tx("something else")} }, true},
		{"Tampered DataHash", func(b *Block) { b.DataHash = crypto.Checksum([]byte("junk")) }, true},
		{"Missing LastCommit", func(b *Block) { b.LastCommit = nil }, true},
		{"Tampered LastCommitHash", func(b *Block) { b.LastCommitHash = crypto.Checksum([]byte("junk")) }, true},
		{"Bad ProposerAddress", func(b *Block) { b.ProposerAddress = []byte{1} }, true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			block := makeTestBlock(t, 2, Txs{Tx("tx1")}, lastCommit)
			tc.malleate(block)
			assert.Equal(t, tc.expectErr, block.ValidateBasic() != nil)
		})
	}

	var nilBlock *Block
	assert.Error(t, nilBlock.ValidateBasic())
}

func TestCommitValidateBasic(t *testing.T) {
	commit := makeTestCommit(t, 3, RandBlockID())
	require.NoError(t, commit.ValidateBasic())
	assert.Equal(t, 4, commit.Size())

	bad := *commit
	bad.Height = -1
	assert.Error(t, bad.ValidateBasic())

	bad = *commit
	bad.Round = -1
	assert.Error(t, bad.ValidateBasic())

	bad = *commit
	bad.BlockID = BlockID{}
	assert.Error(t, bad.ValidateBasic())

	bad = *commit
	bad.Signatures = nil
	assert.Error(t, bad.ValidateBasic())

	var nilCommit *Commit
	assert.Equal(t, 0, nilCommit.Size())
	assert.NotNil(t, nilCommit.Hash(), "nil commit hashes to the empty-input hash")
}

func TestTxsHash(t *testing.T) {
	txs := Txs{Tx("a"), Tx("b")}
	assert.Equal(t, txs.Hash(), Txs{Tx("a"), Tx("b")}.Hash())
	assert.NotEqual(t, txs.Hash(), Txs{Tx("b"), Tx("a")}.Hash(), "order matters")
	assert.NotNil(t, Txs{}.Hash())
}
