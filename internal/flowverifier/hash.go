package flowverifier

import (
	"bytes"
	"hash/fnv"

	"github.com/ARCCN/runos-sub001/ofp"
)

// matchHash serializes m's OXM TLV list through ofp's own WriteTo (the
// same stable byte ordering the wire codec uses) and folds it into a
// single hash, so (table, priority, matchHash) can stand in for
// (table, priority, match) as a map key without comparing field slices
// directly.
func matchHash(m ofp.Match) uint64 {
	var buf bytes.Buffer
	(&m).WriteTo(&buf)

	h := fnv.New64a()
	h.Write(buf.Bytes())
	return h.Sum64()
}
