package disclosure

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// NoteOpening proves that a published note leaf opens to a stated amount without revealing the
// blinding factor.
type NoteOpening struct {
	// Public inputs
	NoteHash frontend.Variable `gnark:",public"`
	AddressX frontend.Variable `gnark:",public"`
	Token    frontend.Variable `gnark:",public"`
	Amount   frontend.Variable `gnark:",public"`

	// Private inputs
	Blinding frontend.Variable
}

// Define checks NoteHash == H(AddressX, Token, H(Amount, Blinding)).
func (c *NoteOpening) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.Amount, c.Blinding)
	commitment := hasher.Sum()

	hasher.Reset()
	hasher.Write(c.AddressX, c.Token, commitment)
	api.AssertIsEqual(c.NoteHash, hasher.Sum())
	return nil
}
