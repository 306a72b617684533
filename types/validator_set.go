package types

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roundstep/roundstep/crypto/merkle"
	tmbytes "github.com/roundstep/roundstep/libs/bytes"
	tmmath "github.com/roundstep/roundstep/libs/math"
)

// MaxTotalVotingPower - the maximum allowed total voting power.
// The cap is low enough that quorum arithmetic (power*3 vs total*2) can never
// overflow int64.
const MaxTotalVotingPower = int64(math.MaxInt64) / 8

// ErrTotalVotingPowerOverflow is returned when the total voting power of the
// resulting validator set exceeds MaxTotalVotingPower.
var ErrTotalVotingPowerOverflow = fmt.Errorf("total voting power should be guarded to not exceed %v",
	MaxTotalVotingPower)

// ValidatorSet represents the set of validators for one height, ordered
// deterministically by ascending address. The order is consensus-critical:
// proposer selection is positional, so every node must enumerate the set
// identically.
//
// The set is immutable for the duration of a height; membership changes take
// effect only at a height boundary.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`

	// cached (not deterministic from JSON; recomputed on demand)
	totalVotingPower int64
}

// NewValidatorSet initializes a ValidatorSet by copying and sorting the
// given validators by address.
//
// The addresses and voting powers are assumed valid; call ValidateBasic to
// verify. Panics only if the total voting power overflows the int64 guard.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{
		Validators: validatorListCopy(valz),
	}
	sort.Sort(ValidatorsByAddress(vals.Validators))
	if err := vals.updateTotalVotingPower(); err != nil {
		panic(err)
	}
	return vals
}

// ValidateBasic checks the well-formedness of the validator set.
func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}
	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
	}
	for i := 1; i < len(vals.Validators); i++ {
		if bytes.Compare(vals.Validators[i-1].Address, vals.Validators[i].Address) >= 0 {
			return errors.New("validators are not sorted by address or contain duplicates")
		}
	}
	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// Copy each validator into a new ValidatorSet.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	return &ValidatorSet{
		Validators:       validatorListCopy(vals.Validators),
		totalVotingPower: vals.totalVotingPower,
	}
}

// HasAddress returns true if address is in the validator set.
func (vals *ValidatorSet) HasAddress(address []byte) bool {
	_, val := vals.GetByAddress(address)
	return val != nil
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address []byte) (index int32, val *Validator) {
	i := sort.Search(len(vals.Validators), func(i int) bool {
		return bytes.Compare(address, vals.Validators[i].Address) <= 0
	})
	if i < len(vals.Validators) && bytes.Equal(vals.Validators[i].Address, address) {
		return int32(i), vals.Validators[i].Copy()
	}
	return -1, nil
}

// GetByIndex returns the validator's address and validator itself (copy) by
// index. It returns nil values if index is less than 0 or greater or equal
// to len(ValidatorSet.Validators).
func (vals *ValidatorSet) GetByIndex(index int32) (address []byte, val *Validator) {
	if index < 0 || int(index) >= len(vals.Validators) {
		return nil, nil
	}
	val = vals.Validators[index]
	return val.Address, val.Copy()
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// updateTotalVotingPower recomputes the cached total, enforcing the overflow
// guard.
func (vals *ValidatorSet) updateTotalVotingPower() error {
	sum := int64(0)
	for _, val := range vals.Validators {
		sum = tmmath.SafeAddClipInt64(sum, val.VotingPower)
		if sum > MaxTotalVotingPower {
			return ErrTotalVotingPowerOverflow
		}
	}
	vals.totalVotingPower = sum
	return nil
}

// TotalVotingPower returns the sum of the voting powers of all validators.
// It recomputes the total voting power if required.
func (vals *ValidatorSet) TotalVotingPower() int64 {
	if vals.totalVotingPower == 0 {
		if err := vals.updateTotalVotingPower(); err != nil {
			panic(err)
		}
	}
	return vals.totalVotingPower
}

// QuorumPower returns the minimum voting power a set of votes must strictly
// exceed to constitute a 2/3+ majority. Callers compare with > (strict),
// never >=.
func (vals *ValidatorSet) QuorumPower() int64 {
	return vals.TotalVotingPower() * 2 / 3
}

// HasQuorum reports whether the given accumulated voting power constitutes a
// 2/3+ majority of the set's total power. The comparison is exact integer
// arithmetic: power*3 > total*2. Overflow is impossible because totals are
// capped at MaxTotalVotingPower.
func (vals *ValidatorSet) HasQuorum(power int64) bool {
	return power*3 > vals.TotalVotingPower()*2
}

// Proposer returns the validator whose turn it is to propose a block for the
// given height and round: the validator at index (height+round) mod N in
// address order. A pure function of its inputs, identical on every node that
// holds the same set.
func (vals *ValidatorSet) Proposer(height int64, round int32) *Validator {
	if vals.IsNilOrEmpty() {
		return nil
	}
	idx := (height + int64(round)) % int64(len(vals.Validators))
	return vals.Validators[idx].Copy()
}

// Hash returns the Merkle root hash built using validators (as leaves) in
// the set.
func (vals *ValidatorSet) Hash() tmbytes.HexBytes {
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

func (vals *ValidatorSet) String() string {
	return vals.StringIndented("")
}

// StringIndented returns an intended String.
func (vals *ValidatorSet) StringIndented(indent string) string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	for _, val := range vals.Validators {
		valStrings = append(valStrings, val.String())
	}
	return fmt.Sprintf(`ValidatorSet{
%s  TotalPower: %v
%s  Validators:
%s    %v
%s}`,
		indent, vals.TotalVotingPower(),
		indent,
		indent, strings.Join(valStrings, "\n"+indent+"    "),
		indent)
}

func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

//-------------------------------------

// ValidatorsByAddress implements sort.Interface for []*Validator based on
// the Address field.
type ValidatorsByAddress []*Validator

func (valz ValidatorsByAddress) Len() int { return len(valz) }

func (valz ValidatorsByAddress) Less(i, j int) bool {
	return bytes.Compare(valz[i].Address, valz[j].Address) == -1
}

func (valz ValidatorsByAddress) Swap(i, j int) {
	valz[i], valz[j] = valz[j], valz[i]
}
