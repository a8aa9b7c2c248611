package agent

import (
	"bytes"
	"io"
	"testing"

	"github.com/ARCCN/runos-sub001/ofp"
)

// rawMultipartReply builds a single, non-continued multipart reply
// message body (header plus already-encoded element bytes) for tests
// that stand in for a datapath.
type rawMultipartReply struct {
	typ  ofp.MultipartType
	body []byte
}

func (r *rawMultipartReply) WriteTo(w io.Writer) (int64, error) {
	hdr := ofp.MultipartReply{Type: r.typ}
	n, err := hdr.WriteTo(w)
	if err != nil {
		return n, err
	}
	nn, err := w.Write(r.body)
	return n + int64(nn), err
}

func (r *rawMultipartReply) ReadFrom(io.Reader) (int64, error) { return 0, nil }

func appendWireTo(t *testing.T, body []byte, w io.WriterTo) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return append(body, buf.Bytes()...)
}
