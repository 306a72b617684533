package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/internal/jsontypes"
)

// Validator holds a validator's identity and voting power for one height.
// The address is derived from the public key.
type Validator struct {
	Address     crypto.Address
	PubKey      crypto.PubKey
	VotingPower int64
}

type validatorJSON struct {
	Address     crypto.Address  `json:"address"`
	PubKey      json.RawMessage `json:"pub_key,omitempty"`
	VotingPower int64           `json:"voting_power,string"`
}

// MarshalJSON implements json.Marshaler. The public key is encoded through
// the jsontypes registry so its concrete type survives a round trip.
func (v Validator) MarshalJSON() ([]byte, error) {
	val := validatorJSON{
		Address:     v.Address,
		VotingPower: v.VotingPower,
	}
	if v.PubKey != nil {
		pk, err := jsontypes.Marshal(v.PubKey)
		if err != nil {
			return nil, err
		}
		val.PubKey = pk
	}
	return json.Marshal(val)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Validator) UnmarshalJSON(data []byte) error {
	var val validatorJSON
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	if err := jsontypes.Unmarshal(val.PubKey, &v.PubKey); err != nil {
		return err
	}
	v.Address = val.Address
	v.VotingPower = val.VotingPower
	return nil
}

// NewValidator returns a new validator with the given pubkey and voting
// power.
func NewValidator(pubKey crypto.PubKey, votingPower int64) *Validator {
	return &Validator{
		Address:     pubKey.Address(),
		PubKey:      pubKey,
		VotingPower: votingPower,
	}
}

// ValidateBasic performs basic validation.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.PubKey == nil {
		return errors.New("validator does not have a public key")
	}
	if v.VotingPower <= 0 {
		return errors.New("validator has non-positive voting power")
	}
	if len(v.Address) != crypto.AddressSize {
		return fmt.Errorf("validator address is the wrong size: %v", v.Address)
	}
	if !v.PubKey.Address().Equal(v.Address) {
		return errors.New("validator address does not match its public key")
	}
	return nil
}

// Copy creates a new copy of the validator.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

// String returns a string representation of String.
//
// 1. address
// 2. public key
// 3. voting power
func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v %v VP:%v}",
		v.Address,
		v.PubKey,
		v.VotingPower)
}

// Bytes computes the unique encoding of a validator with a given voting
// power, used as input to the validator set hash.
func (v *Validator) Bytes() []byte {
	bz, err := json.Marshal(validatorJSON{
		Address:     v.Address,
		VotingPower: v.VotingPower,
	})
	if err != nil {
		panic(fmt.Errorf("marshaling validator: %w", err))
	}
	return bz
}
