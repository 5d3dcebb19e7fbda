package chain

import "errors"

// Block append errors.
var (
	// ErrParentMismatch: the liquid head is empty and the incoming block
	// does not reference the last persisted block.
	ErrParentMismatch = errors.New("block append: references incorrect")

	// ErrReferenceUnknown: a liquid block exists and the incoming block's
	// reference matches neither the base nor any microblock signature.
	ErrReferenceUnknown = errors.New("block append: liquid block exists, referenced block unknown")

	// ErrForgedSignature: a forged block failed its signature self-check.
	// Fatal — indicates liquid-head corruption, not bad input.
	ErrForgedSignature = errors.New("block append: invalid forged block signature")
)

// Microblock append errors.
var (
	ErrNoBase         = errors.New("microblock append: no base block")
	ErrWrongGenerator = errors.New("microblock append: generator differs from base block")
	ErrBlockMicroFork = errors.New("microblock append: does not reference base block")
	ErrMicroMicroFork = errors.New("microblock append: does not reference liquid tip")
	ErrMicroSignature = errors.New("microblock append: signature chain invalid")
)

// Store errors.
var (
	// ErrStoreInconsistent: the four history indexes disagree on
	// cardinality. The store refuses to open.
	ErrStoreInconsistent = errors.New("history store indexes inconsistent")

	// ErrBlockNotFound: no block at the requested height or ID.
	ErrBlockNotFound = errors.New("block not found")

	// ErrEmptyStore: a mutation needs at least one persisted block.
	ErrEmptyStore = errors.New("history store is empty")
)
