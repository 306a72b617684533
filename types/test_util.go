package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/roundstep/roundstep/crypto"
	tmrand "github.com/roundstep/roundstep/libs/rand"
)

// RandValidatorSet returns a randomized validator set (size: numValidators),
// where each validator has the same default voting power, and the matching
// list of private validators sorted by address.
func RandValidatorSet(numValidators int, votingPower int64) (*ValidatorSet, []PrivValidator) {
	var (
		valz           = make([]*Validator, numValidators)
		privValidators = make([]PrivValidator, numValidators)
	)

	for i := 0; i < numValidators; i++ {
		val, privValidator := randValidator(votingPower)
		valz[i] = val
		privValidators[i] = privValidator
	}

	sort.Sort(PrivValidatorsByAddress(privValidators))

	return NewValidatorSet(valz), privValidators
}

func randValidator(votingPower int64) (*Validator, PrivValidator) {
	privVal := NewMockPV()
	pubKey, err := privVal.GetPubKey()
	if err != nil {
		panic(fmt.Errorf("could not retrieve pubkey: %w", err))
	}
	val := NewValidator(pubKey, votingPower)
	return val, privVal
}

// MakeVote constructs a signed vote for the given validator.
func MakeVote(
	val PrivValidator,
	chainID string,
	valIndex int32,
	height int64,
	round int32,
	msgType SignedMsgType,
	blockID BlockID,
	ts time.Time,
) (*Vote, error) {
	pubKey, err := val.GetPubKey()
	if err != nil {
		return nil, fmt.Errorf("could not retrieve pubkey: %w", err)
	}

	vote := &Vote{
		Type:             msgType,
		Height:           height,
		Round:            round,
		BlockID:          blockID,
		Timestamp:        ts,
		ValidatorAddress: pubKey.Address(),
		ValidatorIndex:   valIndex,
	}
	if err := val.SignVote(chainID, vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// RandBlockID returns a BlockID with a random, well-formed hash.
func RandBlockID() BlockID {
	return BlockID{Hash: tmrand.Bytes(crypto.HashSize)}
}
