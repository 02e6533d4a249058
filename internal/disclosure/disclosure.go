// Package disclosure produces Groth16 proofs that a note holds a given amount. The owner, who can
// regenerate every blinding factor from the private seed, hands an auditor the amount and a proof
// instead of the blinding itself.
package disclosure

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"invisible/internal/crypto"
	"invisible/internal/notes"
)

const (
	provingKeyFile   = "note_opening.pk"
	verifyingKeyFile = "note_opening.vk"
)

// ErrInvalidProof is returned when a disclosure does not verify.
var ErrInvalidProof = errors.New("disclosure proof does not verify")

// Disclosure is a note's public leaf data together with its stated amount and the proof.
type Disclosure struct {
	Index    uint64       `json:"index"`
	Address  crypto.Point `json:"address"`
	Token    uint32       `json:"token"`
	Amount   uint64       `json:"amount"`
	NoteHash string       `json:"note_hash"`
	Proof    []byte       `json:"proof"`
}

// Keys holds the compiled circuit and its Groth16 keys.
type Keys struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Compile builds the NoteOpening constraint system over the BLS12-377 scalar field, the field the
// wallet hashes in.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit NoteOpening
	ccs, err := frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit and runs a fresh Groth16 setup.
func Setup() (*Keys, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return &Keys{ccs: ccs, pk: pk, vk: vk}, nil
}

// SetupOrLoadKeys loads the keys from dir, or generates and saves them there if either is
// missing.
func SetupOrLoadKeys(dir string) (*Keys, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pkPath := filepath.Join(dir, provingKeyFile)
	vkPath := filepath.Join(dir, verifyingKeyFile)

	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return &Keys{ccs: ccs, pk: pk, vk: vk}, nil
	}

	pk, vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := saveKey(pkPath, pk); err != nil {
		return nil, err
	}
	if err := saveKey(vkPath, vk); err != nil {
		return nil, err
	}
	return &Keys{ccs: ccs, pk: pk, vk: vk}, nil
}

// VerifyingKey returns the key auditors need.
func (k *Keys) VerifyingKey() groth16.VerifyingKey {
	return k.vk
}

// Prove discloses n's amount.
func (k *Keys) Prove(n *notes.Note) (*Disclosure, error) {
	noteHash := n.Hash()
	assignment := &NoteOpening{
		NoteHash: noteHash.BigInt(new(big.Int)),
		AddressX: addressX(n),
		Token:    uint64(n.Token),
		Amount:   n.Amount,
		Blinding: n.Blinding.BigInt(new(big.Int)),
	}
	w, err := frontend.NewWitness(assignment, ecc.BLS12_377.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(k.ccs, k.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return &Disclosure{
		Index:    n.Index,
		Address:  crypto.NewPoint(n.Address),
		Token:    n.Token,
		Amount:   n.Amount,
		NoteHash: crypto.ScalarString(noteHash),
		Proof:    buf.Bytes(),
	}, nil
}

// Verify checks d against vk. It proves the amount of the leaf d.NoteHash; callers compare that
// hash with the exchange's published state.
func Verify(vk groth16.VerifyingKey, d *Disclosure) error {
	noteHash, ok := new(big.Int).SetString(d.NoteHash, 10)
	if !ok {
		return fmt.Errorf("%w: malformed note hash", ErrInvalidProof)
	}
	addrX := crypto.X(d.Address.G1Affine)
	assignment := &NoteOpening{
		NoteHash: noteHash,
		AddressX: addrX.BigInt(new(big.Int)),
		Token:    uint64(d.Token),
		Amount:   d.Amount,
	}
	w, err := frontend.NewWitness(assignment, ecc.BLS12_377.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	proof := groth16.NewProof(ecc.BLS12_377)
	if _, err := proof.ReadFrom(bytes.NewReader(d.Proof)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

func addressX(n *notes.Note) *big.Int {
	x := crypto.X(n.Address)
	return x.BigInt(new(big.Int))
}

type keyWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

func saveKey(path string, k keyWriter) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = k.WriteTo(f)
	return err
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BLS12_377)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey reads a verifying key saved by SetupOrLoadKeys.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BLS12_377)
	_, err = vk.ReadFrom(f)
	return vk, err
}
