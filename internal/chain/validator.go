package chain

// Diff is the opaque state diff produced by the consensus validator.
// The chain core passes it through without inspecting it.
type Diff any

// Validator decides whether a block is consensus-valid. Returning an error
// aborts the append; the error is surfaced verbatim.
type Validator func() (Diff, error)

// MicroValidator decides whether a microblock extending a base block with
// the given timestamp is consensus-valid.
type MicroValidator func(baseTimestamp int64) (Diff, error)
