package agent

import (
	"bytes"
	"io"
)

// readerFrom is satisfied by every ofp stats/description element that
// can decode one repeated entry of a multipart reply body.
type readerFrom[T any] interface {
	*T
	io.ReaderFrom
}

// readElements decodes body as a back-to-back run of T values, the wire
// shape OpenFlow 1.3 uses for every multipart reply whose body is "an
// array of struct X" (flow/group/meter/table stats, group
// descriptions, meter configs). It stops cleanly at io.EOF.
//
// This exists instead of internal/encoding's reflection-based
// ReadSliceFrom because that helper is handed the slice by value — the
// reflect.Append result it computes is never written back to the
// caller's variable, so nothing actually accumulates. Rather than carry
// that bug into new call sites, the handful of types this package reads
// as repeated multipart elements go through this generic helper, which
// does the same decode loop without the nonfunctional mutation.
func readElements[T any, PT readerFrom[T]](body []byte) ([]T, error) {
	r := bytes.NewReader(body)

	var out []T
	for {
		var v T
		if _, err := PT(&v).ReadFrom(r); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, v)
	}
}
