// Package pcode models the decompiler's SSA-like intermediate
// representation at the boundary consumed by the analysis passes: varnodes
// (value-carrying locations), p-code operations, and basic blocks with
// dominance information. Construction of the IR from machine code and the
// computation of control flow are the job of earlier stages; this package
// only carries their results.
package pcode

// OpCode enumerates the p-code operations the optimizer knows about.
type OpCode uint8

const (
	CPUI_COPY OpCode = iota
	CPUI_LOAD
	CPUI_STORE
	CPUI_BRANCH
	CPUI_CBRANCH
	CPUI_BRANCHIND
	CPUI_CALL
	CPUI_CALLIND
	CPUI_CALLOTHER
	CPUI_RETURN

	CPUI_INT_EQUAL
	CPUI_INT_NOTEQUAL
	CPUI_INT_SLESS
	CPUI_INT_SLESSEQUAL
	CPUI_INT_LESS
	CPUI_INT_LESSEQUAL

	CPUI_INT_ZEXT
	CPUI_INT_SEXT
	CPUI_INT_ADD
	CPUI_INT_SUB
	CPUI_INT_CARRY
	CPUI_INT_SCARRY
	CPUI_INT_SBORROW
	CPUI_INT_2COMP
	CPUI_INT_NEGATE
	CPUI_INT_XOR
	CPUI_INT_AND
	CPUI_INT_OR
	CPUI_INT_LEFT
	CPUI_INT_RIGHT
	CPUI_INT_SRIGHT
	CPUI_INT_MULT
	CPUI_INT_DIV
	CPUI_INT_SDIV
	CPUI_INT_REM
	CPUI_INT_SREM

	CPUI_BOOL_NEGATE
	CPUI_BOOL_XOR
	CPUI_BOOL_AND
	CPUI_BOOL_OR

	CPUI_FLOAT_EQUAL
	CPUI_FLOAT_NOTEQUAL
	CPUI_FLOAT_LESS
	CPUI_FLOAT_LESSEQUAL
	CPUI_FLOAT_ADD
	CPUI_FLOAT_SUB
	CPUI_FLOAT_MULT
	CPUI_FLOAT_DIV

	CPUI_MULTIEQUAL
	CPUI_INDIRECT
	CPUI_PIECE
	CPUI_SUBPIECE

	CPUI_PTRADD
	CPUI_PTRSUB

	// CPUI_MAX is not a real operation. It marks varnodes with no defining
	// operation (inputs and constants).
	CPUI_MAX
)

var opNames = [...]string{
	CPUI_COPY:          "COPY",
	CPUI_LOAD:          "LOAD",
	CPUI_STORE:         "STORE",
	CPUI_BRANCH:        "BRANCH",
	CPUI_CBRANCH:       "CBRANCH",
	CPUI_BRANCHIND:     "BRANCHIND",
	CPUI_CALL:          "CALL",
	CPUI_CALLIND:       "CALLIND",
	CPUI_CALLOTHER:     "CALLOTHER",
	CPUI_RETURN:        "RETURN",
	CPUI_INT_EQUAL:     "INT_EQUAL",
	CPUI_INT_NOTEQUAL:  "INT_NOTEQUAL",
	CPUI_INT_SLESS:     "INT_SLESS",
	CPUI_INT_SLESSEQUAL: "INT_SLESSEQUAL",
	CPUI_INT_LESS:      "INT_LESS",
	CPUI_INT_LESSEQUAL: "INT_LESSEQUAL",
	CPUI_INT_ZEXT:      "INT_ZEXT",
	CPUI_INT_SEXT:      "INT_SEXT",
	CPUI_INT_ADD:       "INT_ADD",
	CPUI_INT_SUB:       "INT_SUB",
	CPUI_INT_CARRY:     "INT_CARRY",
	CPUI_INT_SCARRY:    "INT_SCARRY",
	CPUI_INT_SBORROW:   "INT_SBORROW",
	CPUI_INT_2COMP:     "INT_2COMP",
	CPUI_INT_NEGATE:    "INT_NEGATE",
	CPUI_INT_XOR:       "INT_XOR",
	CPUI_INT_AND:       "INT_AND",
	CPUI_INT_OR:        "INT_OR",
	CPUI_INT_LEFT:      "INT_LEFT",
	CPUI_INT_RIGHT:     "INT_RIGHT",
	CPUI_INT_SRIGHT:    "INT_SRIGHT",
	CPUI_INT_MULT:      "INT_MULT",
	CPUI_INT_DIV:       "INT_DIV",
	CPUI_INT_SDIV:      "INT_SDIV",
	CPUI_INT_REM:       "INT_REM",
	CPUI_INT_SREM:      "INT_SREM",
	CPUI_BOOL_NEGATE:   "BOOL_NEGATE",
	CPUI_BOOL_XOR:      "BOOL_XOR",
	CPUI_BOOL_AND:      "BOOL_AND",
	CPUI_BOOL_OR:       "BOOL_OR",
	CPUI_FLOAT_EQUAL:   "FLOAT_EQUAL",
	CPUI_FLOAT_NOTEQUAL: "FLOAT_NOTEQUAL",
	CPUI_FLOAT_LESS:    "FLOAT_LESS",
	CPUI_FLOAT_LESSEQUAL: "FLOAT_LESSEQUAL",
	CPUI_FLOAT_ADD:     "FLOAT_ADD",
	CPUI_FLOAT_SUB:     "FLOAT_SUB",
	CPUI_FLOAT_MULT:    "FLOAT_MULT",
	CPUI_FLOAT_DIV:     "FLOAT_DIV",
	CPUI_MULTIEQUAL:    "MULTIEQUAL",
	CPUI_INDIRECT:      "INDIRECT",
	CPUI_PIECE:         "PIECE",
	CPUI_SUBPIECE:      "SUBPIECE",
	CPUI_PTRADD:        "PTRADD",
	CPUI_PTRSUB:        "PTRSUB",
	CPUI_MAX:           "MAX",
}

func (c OpCode) String() string {
	if int(c) < len(opNames) && opNames[c] != "" {
		return opNames[c]
	}
	return "INVALID"
}

// IsCall reports whether the operation transfers control to another function
// and therefore produces a value the optimizer cannot see through.
func (c OpCode) IsCall() bool {
	switch c {
	case CPUI_CALL, CPUI_CALLIND, CPUI_CALLOTHER:
		return true
	}
	return false
}

// IsFloat reports whether the operation computes in the floating point
// domain.
func (c OpCode) IsFloat() bool {
	return c >= CPUI_FLOAT_EQUAL && c <= CPUI_FLOAT_DIV
}

// IsBranch reports whether the operation transfers control within the
// function.
func (c OpCode) IsBranch() bool {
	switch c {
	case CPUI_BRANCH, CPUI_CBRANCH, CPUI_BRANCHIND, CPUI_RETURN:
		return true
	}
	return false
}

// IsMarker reports whether the operation is an SSA artifact rather than a
// machine operation.
func (c OpCode) IsMarker() bool {
	return c == CPUI_MULTIEQUAL || c == CPUI_INDIRECT
}

// BooleanOutput reports whether the operation always produces 0 or 1.
func (c OpCode) BooleanOutput() bool {
	switch c {
	case CPUI_INT_EQUAL, CPUI_INT_NOTEQUAL,
		CPUI_INT_SLESS, CPUI_INT_SLESSEQUAL,
		CPUI_INT_LESS, CPUI_INT_LESSEQUAL,
		CPUI_INT_CARRY, CPUI_INT_SCARRY, CPUI_INT_SBORROW,
		CPUI_BOOL_NEGATE, CPUI_BOOL_XOR, CPUI_BOOL_AND, CPUI_BOOL_OR,
		CPUI_FLOAT_EQUAL, CPUI_FLOAT_NOTEQUAL, CPUI_FLOAT_LESS, CPUI_FLOAT_LESSEQUAL:
		return true
	}
	return false
}
