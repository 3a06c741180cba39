package navbits

import (
	"encoding/hex"
	"fmt"
	"math"
)

// SubframeBits is the length of an LNAV subframe: ten 30-bit words.
const SubframeBits = 300

// subframe holds the bits of one subframe, bit 0 first, packed MSB first.
type subframe []byte

// parseSubframe decodes the 75 hex digits of a subframe.
func parseSubframe(s string) (subframe, error) {
	if len(s) != SubframeBits/4 {
		return nil, fmt.Errorf("subframe has %d hex digits, want %d", len(s), SubframeBits/4)
	}
	b, err := hex.DecodeString(s + "0")
	if err != nil {
		return nil, err
	}
	return subframe(b), nil
}

// u returns n bits from start as an unsigned integer.
func (sf subframe) u(start, n int) uint64 {
	var v uint64
	for i := start; i < start+n; i++ {
		v = v<<1 | uint64(sf[i/8]>>(7-i%8)&1)
	}
	return v
}

// s returns n bits from start as a two's complement integer.
func (sf subframe) s(start, n int) int64 {
	v := int64(sf.u(start, n))
	if v&(1<<(n-1)) != 0 {
		v -= 1 << n
	}
	return v
}

// split joins two bit ranges, most significant first, into a two's
// complement integer.
func (sf subframe) split(s1, n1, s2, n2 int) int64 {
	v := int64(sf.u(s1, n1)<<n2 | sf.u(s2, n2))
	if n := n1 + n2; v&(1<<(n-1)) != 0 {
		v -= 1 << n
	}
	return v
}

// usplit is split for unsigned quantities.
func (sf subframe) usplit(s1, n1, s2, n2 int) uint64 {
	return sf.u(s1, n1)<<n2 | sf.u(s2, n2)
}

func scaleU(v uint64, exp int) float64 { return math.Ldexp(float64(v), exp) }
func scaleS(v int64, exp int) float64  { return math.Ldexp(float64(v), exp) }

// semi converts a scaled semicircle quantity to radians.
func semi(v int64, exp int) float64 { return scaleS(v, exp) * math.Pi }
