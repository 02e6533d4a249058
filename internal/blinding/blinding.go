// Package blinding hides note amounts from everyone but their owner.
//
// A blinding is H(address.x, privateSeed): only the holder of the seed can regenerate it for a
// given address. The commitment H(amount, blinding) binds the amount, and the hidden amount is the
// amount masked with bits of H(blinding), so the owner can recover it while scanning.
package blinding

import (
	"encoding/binary"
	"errors"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
)

// ErrCommitmentMismatch is returned when revealed values do not open the commitment.
var ErrCommitmentMismatch = errors.New("hidden values do not open the commitment")

// HiddenValues is what an outside observer sees of a note's amount.
type HiddenValues struct {
	HiddenAmount uint64
	Commitment   fr.Element
}

// Engine derives blindings from a private seed.
type Engine struct {
	seed fr.Element
}

// NewEngine returns an engine bound to privateSeed.
func NewEngine(privateSeed fr.Element) *Engine {
	return &Engine{seed: privateSeed}
}

// GenerateBlinding returns the blinding for notes sent to ko.
func (e *Engine) GenerateBlinding(ko bls12377.G1Affine) fr.Element {
	return crypto.Hash(crypto.X(ko), e.seed)
}

// HideValuesForRecipient hides amount for a note at ko.
func (e *Engine) HideValuesForRecipient(ko bls12377.G1Affine, amount uint64) HiddenValues {
	return Hide(amount, e.GenerateBlinding(ko))
}

// RevealHiddenValues recovers the amount and blinding of a note at ko. It fails unless the
// recovered pair opens commitment, so a foreign note never reads as a valid one.
func (e *Engine) RevealHiddenValues(ko bls12377.G1Affine, hiddenAmount uint64, commitment fr.Element) (uint64, fr.Element, error) {
	yt := e.GenerateBlinding(ko)
	amount := hiddenAmount ^ amountMask(yt)
	c := Commitment(amount, yt)
	if !c.Equal(&commitment) {
		return 0, fr.Element{}, ErrCommitmentMismatch
	}
	return amount, yt, nil
}

// Hide masks amount with a known blinding.
func Hide(amount uint64, blinding fr.Element) HiddenValues {
	return HiddenValues{
		HiddenAmount: amount ^ amountMask(blinding),
		Commitment:   Commitment(amount, blinding),
	}
}

// Commitment is H(amount, blinding).
func Commitment(amount uint64, blinding fr.Element) fr.Element {
	return crypto.Hash(crypto.Uint(amount), blinding)
}

func amountMask(blinding fr.Element) uint64 {
	h := crypto.Hash(blinding)
	b := h.Bytes()
	return binary.BigEndian.Uint64(b[len(b)-8:])
}
