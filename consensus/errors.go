package consensus

import (
	"errors"
)

var (
	// ErrInvalidProposalSignature is returned when the proposal signature
	// does not verify against the round's proposer.
	ErrInvalidProposalSignature = errors.New("error invalid proposal signature")

	// ErrInvalidProposalPOLRound is returned when a proposal carries a
	// POLRound outside [-1, round).
	ErrInvalidProposalPOLRound = errors.New("error invalid proposal POL round")

	// ErrProposalBlockHashMismatch is returned when the block shipped with a
	// proposal does not hash to the proposal's block id.
	ErrProposalBlockHashMismatch = errors.New("proposal block does not hash to proposal block id")

	// ErrAddingVote wraps failures from the vote accounting.
	ErrAddingVote = errors.New("error adding vote")

	errPubKeyIsNotSet = errors.New("pubkey is not set, look for \"Can't get private validator pubkey\" errors")
)
