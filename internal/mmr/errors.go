package mmr

import "errors"

var (
	ErrInvalidNodeData = errors.New("mmr: invalid node data")
	ErrIndexOutOfRange = errors.New("mmr: index out of range")
	ErrEmptyMMR        = errors.New("mmr: empty mmr")
	ErrCorruptedStore  = errors.New("mmr: corrupted store")
	ErrNodeNotFound    = errors.New("mmr: node not found")
	ErrInvalidProof    = errors.New("mmr: invalid proof")
	ErrHashMismatch    = errors.New("mmr: hash mismatch")
)
