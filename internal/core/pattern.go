package core

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Pattern is an interned tuple of terms. After interning, two structurally
// equal patterns are the same *Pattern, so identity comparison suffices
// everywhere in the index.
type Pattern struct {
	terms []Term
	sig   signature
}

// Terms returns the pattern's terms in position order. The returned slice
// must not be modified.
func (p *Pattern) Terms() []Term {
	return p.terms
}

// IsGround returns true if all terms are constants.
func (p *Pattern) IsGround() bool {
	for _, t := range p.terms {
		if t.IsVariable() {
			return false
		}
	}
	return true
}

func (p *Pattern) String() string {
	return termsString(p.terms)
}

// signature is a 128-bit xxhash3 of a pattern's canonical serialization,
// used as the interning key.
type signature [16]byte

func signatureOf(terms []Term) signature {
	var buf []byte
	for _, t := range terms {
		if t.IsVariable() {
			buf = append(buf, 'v')
			buf = append(buf, t.name...)
		} else {
			buf = append(buf, 'c')
			buf = append(buf, t.value.String()...)
		}
		buf = append(buf, 0)
	}

	hash := xxh3.Hash128(buf)
	var sig signature
	binary.BigEndian.PutUint64(sig[0:8], hash.Hi)
	binary.BigEndian.PutUint64(sig[8:16], hash.Lo)
	return sig
}
