package types

import (
	"errors"
	"fmt"
)

// VerifyCommit verifies +2/3 of the set had signed the given commit for the
// given blockID at the given height.
//
// Only the power of validators that voted for the committed block counts
// toward the quorum; nil precommits and precommits for other blocks carry no
// weight here.
func (vals *ValidatorSet) VerifyCommit(chainID string, blockID BlockID, height int64, commit *Commit) error {
	if commit == nil {
		return errors.New("nil commit")
	}
	if vals.Size() != len(commit.Signatures) {
		return fmt.Errorf("invalid commit: wrong set size %v, expected %v", len(commit.Signatures), vals.Size())
	}
	if height != commit.Height {
		return fmt.Errorf("invalid commit: wrong height %v, expected %v", commit.Height, height)
	}
	if !blockID.Equals(commit.BlockID) {
		return fmt.Errorf("invalid commit: wrong block ID %v, expected %v", commit.BlockID, blockID)
	}

	var talliedVotingPower int64
	for idx, commitSig := range commit.Signatures {
		if !commitSig.ForBlock() {
			continue
		}

		val := vals.Validators[idx]
		if !val.Address.Equal(commitSig.ValidatorAddress) {
			return fmt.Errorf("invalid commit: wrong validator address %v at index %v, expected %v",
				commitSig.ValidatorAddress, idx, val.Address)
		}

		vote := commit.GetVote(int32(idx))
		if !val.PubKey.VerifySignature(vote.SignBytes(chainID), commitSig.Signature) {
			return fmt.Errorf("invalid commit: wrong signature at index %v (%v)", idx, commitSig)
		}

		talliedVotingPower += val.VotingPower
	}

	if !vals.HasQuorum(talliedVotingPower) {
		return fmt.Errorf("invalid commit: insufficient voting power %v, need more than %v",
			talliedVotingPower, vals.QuorumPower())
	}
	return nil
}
