// Package stackeffect is the per-opcode stack-effect oracle: given an
// opcode, its argument and whether a conditional branch was taken,
// return the (pops, pushes) pair the instruction
// would have performed moving forward.
//
// The static table and the argument-dependent and uncertain cases
// below are transcribed from stack_effect.py's _SE table and
// StackEffect.stack_effect, itself adapted (per that file's own
// license header) from the byteplay project's stack-effect table for
// CPython 3.8.
package stackeffect

import (
	"errors"
	"fmt"

	"checkedcov/internal/bytecode"
)

// ErrUncertain is returned for opcodes whose stack effect cannot be
// modelled statically (exception-table or internal-loop semantics).
// The slicer reacts by disabling stack simulation for the current
// frame.
var ErrUncertain = errors.New("stackeffect: uncertain stack effect")

var uncertain = map[bytecode.Op]bool{
	bytecode.WITH_CLEANUP_START:  true,
	bytecode.WITH_CLEANUP_FINISH: true,
	bytecode.SETUP_ASYNC_WITH:    true,
	bytecode.END_ASYNC_FOR:       true,
	bytecode.FORMAT_VALUE:        true,
}

type effect struct{ pops, pushes int }

var static = map[bytecode.Op]effect{
	bytecode.NOP:          {0, 0},
	bytecode.EXTENDED_ARG:  {0, 0},
	bytecode.POP_TOP:      {1, 0},
	bytecode.ROT_TWO:      {2, 2},
	bytecode.ROT_THREE:    {3, 3},
	bytecode.ROT_FOUR:     {4, 4},
	bytecode.DUP_TOP:      {1, 2},
	bytecode.DUP_TOP_TWO:  {2, 4},

	bytecode.UNARY_POSITIVE: {1, 1},
	bytecode.UNARY_NEGATIVE: {1, 1},
	bytecode.UNARY_NOT:      {1, 1},
	bytecode.UNARY_INVERT:   {1, 1},

	bytecode.SET_ADD:      {2, 1},
	bytecode.LIST_APPEND:  {1, 0},
	bytecode.MAP_ADD:      {2, 0},

	bytecode.BINARY_POWER:         {2, 1},
	bytecode.BINARY_MULTIPLY:      {2, 1},
	bytecode.BINARY_MATRIX_MULTIPLY: {2, 1},
	bytecode.BINARY_MODULO:        {2, 1},
	bytecode.BINARY_ADD:           {2, 1},
	bytecode.BINARY_SUBTRACT:      {2, 1},
	bytecode.BINARY_SUBSCR:        {2, 1},
	bytecode.BINARY_FLOOR_DIVIDE:  {2, 1},
	bytecode.BINARY_TRUE_DIVIDE:   {2, 1},

	bytecode.INPLACE_FLOOR_DIVIDE: {2, 1},
	bytecode.INPLACE_TRUE_DIVIDE:  {2, 1},
	bytecode.INPLACE_ADD:          {2, 1},
	bytecode.INPLACE_SUBTRACT:     {2, 1},
	bytecode.INPLACE_MULTIPLY:     {2, 1},
	bytecode.INPLACE_MATRIX_MULTIPLY: {2, 1},
	bytecode.INPLACE_MODULO:       {2, 1},

	bytecode.STORE_SUBSCR:  {3, 0},
	bytecode.DELETE_SUBSCR: {2, 0},

	bytecode.BINARY_LSHIFT: {2, 1},
	bytecode.BINARY_RSHIFT: {2, 1},
	bytecode.BINARY_AND:    {2, 1},
	bytecode.BINARY_XOR:    {2, 1},
	bytecode.BINARY_OR:     {2, 1},
	bytecode.INPLACE_POWER: {2, 1},
	bytecode.GET_ITER:      {1, 1},

	bytecode.PRINT_EXPR:        {1, 0},
	bytecode.LOAD_BUILD_CLASS:  {0, 1},
	bytecode.INPLACE_LSHIFT:    {2, 1},
	bytecode.INPLACE_RSHIFT:    {2, 1},
	bytecode.INPLACE_AND:       {2, 1},
	bytecode.INPLACE_XOR:       {2, 1},
	bytecode.INPLACE_OR:        {2, 1},

	bytecode.RETURN_VALUE:      {1, 0},
	bytecode.IMPORT_STAR:       {1, 0},
	bytecode.SETUP_ANNOTATIONS: {0, 0},
	bytecode.YIELD_VALUE:       {1, 1},
	bytecode.YIELD_FROM:        {2, 1},
	bytecode.POP_BLOCK:         {0, 0},
	bytecode.POP_EXCEPT:        {3, 0},
	bytecode.POP_FINALLY:       {6, 0},
	bytecode.END_FINALLY:       {6, 0},

	bytecode.STORE_NAME:  {1, 0},
	bytecode.DELETE_NAME: {0, 0},

	bytecode.STORE_ATTR:   {2, 0},
	bytecode.DELETE_ATTR:  {1, 0},
	bytecode.STORE_GLOBAL: {1, 0},
	bytecode.DELETE_GLOBAL: {0, 0},
	bytecode.LOAD_CONST:   {0, 1},
	bytecode.LOAD_NAME:    {0, 1},
	bytecode.LOAD_ATTR:    {1, 1},
	bytecode.COMPARE_OP:   {2, 1},
	// IMPORT_NAME is modelled as 2 pops / 1 push, understating its
	// true effect, to compensate for treating it as a definition so
	// the connection is made through the module's memory address
	// instead of widening scope (stack_effect.py's own comment).
	bytecode.IMPORT_NAME: {2, 1},
	bytecode.IMPORT_FROM: {0, 1},

	bytecode.JUMP_FORWARD:  {0, 0},
	bytecode.JUMP_ABSOLUTE: {0, 0},

	bytecode.POP_JUMP_IF_FALSE: {1, 0},
	bytecode.POP_JUMP_IF_TRUE:  {1, 0},

	bytecode.LOAD_GLOBAL: {0, 1},

	bytecode.BEGIN_FINALLY: {0, 6},

	bytecode.LOAD_FAST:   {0, 1},
	bytecode.STORE_FAST:  {1, 0},
	bytecode.DELETE_FAST: {0, 0},

	bytecode.LOAD_CLOSURE:    {0, 1},
	bytecode.LOAD_DEREF:      {0, 1},
	bytecode.LOAD_CLASSDEREF: {0, 1},
	bytecode.STORE_DEREF:     {1, 0},
	bytecode.DELETE_DEREF:    {0, 0},

	bytecode.GET_AWAITABLE:      {1, 1},
	bytecode.BEFORE_ASYNC_WITH:  {1, 2},
	bytecode.GET_AITER:          {1, 1},
	bytecode.GET_ANEXT:          {1, 2},
	bytecode.GET_YIELD_FROM_ITER: {1, 1},

	bytecode.LOAD_METHOD: {1, 2},
}

// Effect returns the (pops, pushes) of opcode given its argument and
// whether a conditional branch was taken. It returns ErrUncertain for
// opcodes stack_effect.py's StackEffect.UNCERTAIN list disables.
func Effect(opcode bytecode.Op, arg int, jumped bool) (pops, pushes int, err error) {
	if uncertain[opcode] {
		return 0, 0, fmt.Errorf("%w: %s", ErrUncertain, opcode)
	}

	if e, ok := static[opcode]; ok {
		return e.pops, e.pushes, nil
	}

	switch opcode {
	case bytecode.SETUP_WITH:
		if !jumped {
			return 0, 1, nil
		}
		return 0, 6, nil
	case bytecode.FOR_ITER:
		if !jumped {
			return 1, 2, nil
		}
		return 1, 0, nil
	case bytecode.JUMP_IF_TRUE_OR_POP, bytecode.JUMP_IF_FALSE_OR_POP:
		if !jumped {
			return 1, 0, nil
		}
		return 0, 0, nil
	case bytecode.SETUP_FINALLY:
		if !jumped {
			return 0, 0, nil
		}
		return 0, 6, nil
	case bytecode.CALL_FINALLY:
		if !jumped {
			return 0, 1, nil
		}
		return 0, 0, nil

	case bytecode.UNPACK_SEQUENCE:
		return 1, arg, nil
	case bytecode.UNPACK_EX:
		return 1, (arg & 0xFF) + (arg >> 8) + 1, nil
	case bytecode.BUILD_TUPLE, bytecode.BUILD_LIST, bytecode.BUILD_SET, bytecode.BUILD_STRING:
		return arg, 1, nil
	case bytecode.BUILD_LIST_UNPACK, bytecode.BUILD_TUPLE_UNPACK, bytecode.BUILD_TUPLE_UNPACK_WITH_CALL,
		bytecode.BUILD_SET_UNPACK, bytecode.BUILD_MAP_UNPACK, bytecode.BUILD_MAP_UNPACK_WITH_CALL:
		return arg, 1, nil
	case bytecode.BUILD_MAP:
		return 2 * arg, 1, nil
	case bytecode.BUILD_CONST_KEY_MAP:
		return 1 + arg, 1, nil
	case bytecode.RAISE_VARARGS:
		return arg, 0, nil
	case bytecode.CALL_FUNCTION:
		return 1 + arg, 1, nil
	case bytecode.CALL_METHOD:
		return 2 + arg, 1, nil
	case bytecode.CALL_FUNCTION_KW:
		return 2 + arg, 1, nil
	case bytecode.CALL_FUNCTION_EX:
		pops := 2
		if arg&0x01 != 0 {
			pops++
		}
		return pops, 1, nil
	case bytecode.MAKE_FUNCTION:
		pops := 2
		if arg&0x01 != 0 {
			pops++
		}
		if arg&0x02 != 0 {
			pops++
		}
		if arg&0x04 != 0 {
			pops++
		}
		if arg&0x08 != 0 {
			pops++
		}
		return pops, 1, nil
	case bytecode.BUILD_SLICE:
		if arg == 3 {
			return 3, 1, nil
		}
		return 2, 1, nil
	}

	return 0, 0, fmt.Errorf("stackeffect: opcode %s isn't recognized", opcode)
}
