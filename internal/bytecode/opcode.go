// Package bytecode provides the per-opcode classification table the
// rest of checkedcov is parameterized over. It mirrors the CPython
// 3.8 opcode enumeration pyChecco instruments against; a different ISA
// (see internal/isax86) can satisfy the same Categorizer interface
// without touching the slicer core.
package bytecode

import "strconv"

// Op identifies a single bytecode operation. The numeric values match
// CPython 3.8's opcode module so that traces captured by an external
// instrumentation layer (out of scope for this module) can be
// replayed without translation.
type Op int

const (
	POP_TOP   Op = 1
	ROT_TWO   Op = 2
	ROT_THREE Op = 3
	DUP_TOP   Op = 4
	DUP_TOP_TWO Op = 5
	ROT_FOUR  Op = 6

	NOP            Op = 9
	UNARY_POSITIVE Op = 10
	UNARY_NEGATIVE Op = 11
	UNARY_NOT      Op = 12
	UNARY_INVERT   Op = 15

	BINARY_MATRIX_MULTIPLY  Op = 16
	INPLACE_MATRIX_MULTIPLY Op = 17

	BINARY_POWER    Op = 19
	BINARY_MULTIPLY Op = 20

	BINARY_MODULO      Op = 22
	BINARY_ADD         Op = 23
	BINARY_SUBTRACT    Op = 24
	BINARY_SUBSCR      Op = 25
	BINARY_FLOOR_DIVIDE Op = 26
	BINARY_TRUE_DIVIDE Op = 27
	INPLACE_FLOOR_DIVIDE Op = 28
	INPLACE_TRUE_DIVIDE Op = 29

	GET_AITER          Op = 50
	GET_ANEXT          Op = 51
	BEFORE_ASYNC_WITH  Op = 52
	BEGIN_FINALLY      Op = 53
	END_ASYNC_FOR      Op = 54
	INPLACE_ADD        Op = 55
	INPLACE_SUBTRACT   Op = 56
	INPLACE_MULTIPLY   Op = 57

	INPLACE_MODULO Op = 59
	STORE_SUBSCR   Op = 60
	DELETE_SUBSCR  Op = 61
	BINARY_LSHIFT  Op = 62
	BINARY_RSHIFT  Op = 63
	BINARY_AND     Op = 64
	BINARY_XOR     Op = 65
	BINARY_OR      Op = 66
	INPLACE_POWER  Op = 67
	GET_ITER       Op = 68
	GET_YIELD_FROM_ITER Op = 69

	PRINT_EXPR       Op = 70
	LOAD_BUILD_CLASS Op = 71
	YIELD_FROM       Op = 72
	GET_AWAITABLE    Op = 73

	INPLACE_LSHIFT Op = 75
	INPLACE_RSHIFT Op = 76
	INPLACE_AND    Op = 77
	INPLACE_XOR    Op = 78
	INPLACE_OR     Op = 79

	WITH_CLEANUP_START  Op = 81
	WITH_CLEANUP_FINISH Op = 82
	RETURN_VALUE        Op = 83
	IMPORT_STAR         Op = 84
	SETUP_ANNOTATIONS   Op = 85
	YIELD_VALUE         Op = 86
	POP_BLOCK           Op = 87
	END_FINALLY         Op = 88
	POP_EXCEPT          Op = 89

	STORE_NAME      Op = 90
	DELETE_NAME     Op = 91
	UNPACK_SEQUENCE Op = 92
	FOR_ITER        Op = 93
	UNPACK_EX       Op = 94
	STORE_ATTR      Op = 95
	DELETE_ATTR     Op = 96
	STORE_GLOBAL    Op = 97
	DELETE_GLOBAL   Op = 98
	LOAD_CONST      Op = 100

	LOAD_NAME    Op = 101
	BUILD_TUPLE  Op = 102
	BUILD_LIST   Op = 103
	BUILD_SET    Op = 104
	BUILD_MAP    Op = 105
	LOAD_ATTR    Op = 106
	COMPARE_OP   Op = 107
	IMPORT_NAME  Op = 108
	IMPORT_FROM  Op = 109

	JUMP_FORWARD          Op = 110
	JUMP_IF_FALSE_OR_POP  Op = 111
	JUMP_IF_TRUE_OR_POP   Op = 112
	JUMP_ABSOLUTE         Op = 113
	POP_JUMP_IF_FALSE     Op = 114
	POP_JUMP_IF_TRUE      Op = 115

	LOAD_GLOBAL Op = 116

	SETUP_FINALLY Op = 122

	LOAD_FAST   Op = 124
	STORE_FAST  Op = 125
	DELETE_FAST Op = 126

	RAISE_VARARGS Op = 130
	CALL_FUNCTION Op = 131
	MAKE_FUNCTION Op = 132
	BUILD_SLICE   Op = 133
	LOAD_CLOSURE  Op = 135
	LOAD_DEREF    Op = 136
	STORE_DEREF   Op = 137
	DELETE_DEREF  Op = 138

	CALL_FUNCTION_KW Op = 141
	CALL_FUNCTION_EX Op = 142

	SETUP_WITH Op = 143

	EXTENDED_ARG Op = 144

	LIST_APPEND Op = 145
	SET_ADD     Op = 146
	MAP_ADD     Op = 147

	LOAD_CLASSDEREF Op = 148

	BUILD_LIST_UNPACK           Op = 149
	BUILD_MAP_UNPACK            Op = 150
	BUILD_MAP_UNPACK_WITH_CALL  Op = 151
	BUILD_TUPLE_UNPACK          Op = 152
	BUILD_SET_UNPACK            Op = 153

	SETUP_ASYNC_WITH Op = 154

	FORMAT_VALUE               Op = 155
	BUILD_CONST_KEY_MAP        Op = 156
	BUILD_STRING               Op = 157
	BUILD_TUPLE_UNPACK_WITH_CALL Op = 158

	LOAD_METHOD   Op = 160
	CALL_METHOD   Op = 161
	CALL_FINALLY  Op = 162
	POP_FINALLY   Op = 163
)

// opNames gives the handful of opcodes that actually appear in error
// messages and debug output a readable name; unlisted opcodes print
// as their numeric value.
var opNames = map[Op]string{
	LOAD_FAST: "LOAD_FAST", STORE_FAST: "STORE_FAST", DELETE_FAST: "DELETE_FAST",
	LOAD_NAME: "LOAD_NAME", STORE_NAME: "STORE_NAME", DELETE_NAME: "DELETE_NAME",
	LOAD_GLOBAL: "LOAD_GLOBAL", STORE_GLOBAL: "STORE_GLOBAL", DELETE_GLOBAL: "DELETE_GLOBAL",
	LOAD_DEREF: "LOAD_DEREF", STORE_DEREF: "STORE_DEREF", DELETE_DEREF: "DELETE_DEREF",
	LOAD_CLOSURE: "LOAD_CLOSURE", LOAD_CLASSDEREF: "LOAD_CLASSDEREF",
	LOAD_ATTR: "LOAD_ATTR", STORE_ATTR: "STORE_ATTR", DELETE_ATTR: "DELETE_ATTR",
	BINARY_SUBSCR: "BINARY_SUBSCR", STORE_SUBSCR: "STORE_SUBSCR", DELETE_SUBSCR: "DELETE_SUBSCR",
	IMPORT_NAME: "IMPORT_NAME", IMPORT_FROM: "IMPORT_FROM", IMPORT_STAR: "IMPORT_STAR",
	LOAD_METHOD: "LOAD_METHOD", CALL_METHOD: "CALL_METHOD",
	CALL_FUNCTION: "CALL_FUNCTION", CALL_FUNCTION_KW: "CALL_FUNCTION_KW", CALL_FUNCTION_EX: "CALL_FUNCTION_EX",
	RETURN_VALUE: "RETURN_VALUE", YIELD_VALUE: "YIELD_VALUE", YIELD_FROM: "YIELD_FROM",
	JUMP_FORWARD: "JUMP_FORWARD", JUMP_ABSOLUTE: "JUMP_ABSOLUTE",
	POP_JUMP_IF_TRUE: "POP_JUMP_IF_TRUE", POP_JUMP_IF_FALSE: "POP_JUMP_IF_FALSE",
	JUMP_IF_TRUE_OR_POP: "JUMP_IF_TRUE_OR_POP", JUMP_IF_FALSE_OR_POP: "JUMP_IF_FALSE_OR_POP",
	FOR_ITER: "FOR_ITER", LOAD_CONST: "LOAD_CONST", COMPARE_OP: "COMPARE_OP",
	MAKE_FUNCTION: "MAKE_FUNCTION", EXTENDED_ARG: "EXTENDED_ARG",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "OP<" + strconv.Itoa(int(o)) + ">"
}

// ParseOp resolves an opcode's canonical name (as printed by String)
// back to its Op value, for session files that name opcodes rather
// than carry their raw numeric value.
func ParseOp(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

// Category groups of opcodes, mirroring
// pyChecco/instrumentation/instruction_instrumentation.py's OP_* lists
// and pyChecco/slicer/instruction.py's MEMORY_*_INSTRUCTIONS.
var (
	memoryUse = set(LOAD_FAST, LOAD_NAME, LOAD_GLOBAL, LOAD_ATTR, LOAD_DEREF, BINARY_SUBSCR,
		LOAD_METHOD, IMPORT_FROM, LOAD_CLOSURE, LOAD_CLASSDEREF)

	memoryDef = set(STORE_FAST, STORE_NAME, STORE_GLOBAL, STORE_DEREF, STORE_ATTR, STORE_SUBSCR,
		BINARY_SUBSCR, DELETE_FAST, DELETE_NAME, DELETE_GLOBAL, DELETE_ATTR, DELETE_SUBSCR,
		DELETE_DEREF, IMPORT_NAME)

	condBranch = set(POP_JUMP_IF_TRUE, POP_JUMP_IF_FALSE, JUMP_IF_TRUE_OR_POP, JUMP_IF_FALSE_OR_POP, FOR_ITER)

	uncondJump = set(JUMP_FORWARD, JUMP_ABSOLUTE)

	callOps = set(CALL_FUNCTION, CALL_FUNCTION_KW, CALL_FUNCTION_EX, CALL_METHOD, YIELD_FROM)

	returnOps = set(RETURN_VALUE, YIELD_VALUE)

	localAccess  = set(STORE_FAST, LOAD_FAST, DELETE_FAST)
	nameAccess   = set(STORE_NAME, LOAD_NAME, DELETE_NAME)
	globalAccess = set(STORE_GLOBAL, LOAD_GLOBAL, DELETE_GLOBAL)
	derefAccess  = set(STORE_DEREF, LOAD_DEREF, DELETE_DEREF, LOAD_CLASSDEREF)
	attrAccess   = set(STORE_ATTR, LOAD_ATTR, DELETE_ATTR, IMPORT_FROM, LOAD_METHOD)
	subscrAccess = set(STORE_SUBSCR, DELETE_SUBSCR, BINARY_SUBSCR)

	// tracedInstructions is the set of opcodes a trace is expected to
	// carry an event for; everything else is reconstructed purely from
	// static flow (see internal/flowbuilder).
	tracedInstructions = union(
		set(UNARY_POSITIVE, UNARY_NEGATIVE, UNARY_NOT, UNARY_INVERT, GET_ITER, GET_YIELD_FROM_ITER),
		set(BINARY_POWER, BINARY_MULTIPLY, BINARY_MATRIX_MULTIPLY, BINARY_FLOOR_DIVIDE, BINARY_TRUE_DIVIDE,
			BINARY_MODULO, BINARY_ADD, BINARY_SUBTRACT, BINARY_SUBSCR, BINARY_LSHIFT, BINARY_RSHIFT,
			BINARY_AND, BINARY_XOR, BINARY_OR),
		set(INPLACE_POWER, INPLACE_MULTIPLY, INPLACE_MATRIX_MULTIPLY, INPLACE_FLOOR_DIVIDE,
			INPLACE_TRUE_DIVIDE, INPLACE_MODULO, INPLACE_ADD, INPLACE_SUBTRACT, INPLACE_LSHIFT,
			INPLACE_RSHIFT, INPLACE_AND, INPLACE_XOR, INPLACE_OR),
		set(COMPARE_OP),
		localAccess, nameAccess, globalAccess, derefAccess, attrAccess, subscrAccess,
		set(IMPORT_NAME),
		condBranch, uncondJump,
		set(SETUP_FINALLY, SETUP_WITH, SETUP_ASYNC_WITH, CALL_FINALLY),
		callOps, returnOps,
	)
)

func set(ops ...Op) map[Op]struct{} {
	m := make(map[Op]struct{}, len(ops))
	for _, o := range ops {
		m[o] = struct{}{}
	}
	return m
}

func union(sets ...map[Op]struct{}) map[Op]struct{} {
	m := make(map[Op]struct{})
	for _, s := range sets {
		for o := range s {
			m[o] = struct{}{}
		}
	}
	return m
}

// IsDef reports whether op writes or deletes a named location.
func (o Op) IsDef() bool { _, ok := memoryDef[o]; return ok }

// IsUse reports whether op reads a named location.
func (o Op) IsUse() bool { _, ok := memoryUse[o]; return ok }

// IsCondBranch reports whether op is a conditional branch.
func (o Op) IsCondBranch() bool { _, ok := condBranch[o]; return ok }

// IsUncondJump reports whether op is an unconditional jump.
func (o Op) IsUncondJump() bool { _, ok := uncondJump[o]; return ok }

// IsCall reports whether op invokes a callee.
func (o Op) IsCall() bool { _, ok := callOps[o]; return ok }

// IsReturn reports whether op returns control to a caller.
func (o Op) IsReturn() bool { _, ok := returnOps[o]; return ok }

// IsLocalAccess, IsNameAccess, IsGlobalAccess and IsDerefAccess classify
// a def/use opcode by the scope of the variable it touches; used by
// internal/slicer to pick D_local/D_global/D_nonlocal.
func (o Op) IsLocalAccess() bool  { _, ok := localAccess[o]; return ok }
func (o Op) IsNameAccess() bool   { _, ok := nameAccess[o]; return ok }
func (o Op) IsGlobalAccess() bool { _, ok := globalAccess[o]; return ok }
func (o Op) IsDerefAccess() bool  { _, ok := derefAccess[o]; return ok }

// IsTraced reports whether op is expected to appear in an execution
// trace (as opposed to being reconstructed from static flow alone).
func (o Op) IsTraced() bool { _, ok := tracedInstructions[o]; return ok }
