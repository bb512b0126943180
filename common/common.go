package common

// BlockID names a logical block in the serializer's index.
type BlockID uint64

// NullBlockID is the "not yet assigned" sentinel. Passing it to a
// block write asks the serializer to allocate a fresh id.
const NullBlockID BlockID = ^BlockID(0)

// Recency is a per-block logical timestamp, assigned by callers to
// order concurrent writers' views of the latest data.
type Recency uint64

// InvalidRecency is the recency of a block id that has never been
// written.
const InvalidRecency Recency = ^Recency(0)

// BlockSeqID is a content marker computed from a block's bytes. The
// cache uses it for consistency checks; the index does not store it.
type BlockSeqID uint64
