package isobus

import (
	"math"
	"strconv"
)

// Opcode selects which signal set applies to multiplexed payload. Zero value is NoOpcode. Opcode is comparable and
// is meant to be used as map key.
type Opcode struct {
	value int64
	set   bool
}

// NoOpcode is key for signals of PGNs that are not multiplexed
var NoOpcode = Opcode{}

// OpcodeValue creates opcode with given value
func OpcodeValue(v int64) Opcode {
	return Opcode{value: v, set: true}
}

// opcodeFromDecoded converts decoded selector value to opcode. Values that are not whole numbers can not match any
// opcode and result false.
func opcodeFromDecoded(v float64) (Opcode, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return Opcode{}, false
	}
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return Opcode{}, false
	}
	return OpcodeValue(int64(v)), true
}

// IsSet returns false for NoOpcode
func (o Opcode) IsSet() bool {
	return o.set
}

// Value returns opcode value. For NoOpcode false is returned.
func (o Opcode) Value() (int64, bool) {
	return o.value, o.set
}

func (o Opcode) String() string {
	if !o.set {
		return "none"
	}
	return strconv.FormatInt(o.value, 10)
}
