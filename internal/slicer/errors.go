package slicer

import "errors"

// Sentinel error kinds a caller may match with errors.Is. These are
// the Go equivalents of pyChecco's exception hierarchy: a failed
// lookup against the code object registry, a slice that overran its
// time budget, and a bad configuration handed to the slicing driver.
var (
	ErrConfiguration       = errors.New("slicer: invalid configuration")
	ErrInstructionNotFound = errors.New("slicer: instruction not found")
	ErrSlicingTimeout      = errors.New("slicer: exceeded slicing time budget")
	ErrInvariantViolation  = errors.New("slicer: invariant violation")
	ErrUnrecognizedOpcode  = errors.New("slicer: opcode cannot be classified for definitions/uses")
)
