package ofconn

import (
	"bytes"
	"io"
)

// Body is implemented by every OpenFlow message body (the types in
// package ofp). It mirrors the teacher's ReadWriter pattern from
// internal/encoding: a body knows how to serialize and deserialize
// itself, the header is handled separately by this package.
type Body interface {
	io.WriterTo
	io.ReaderFrom
}

// Message is a decoded OpenFlow message: the common header plus the
// raw, not-yet-typed body. Handlers that care about a particular
// message use Decode to unmarshal Body into a concrete ofp type.
type Message struct {
	Header Header
	Body   []byte
}

// Decode unmarshals the message body into dst. dst only needs to
// implement io.ReaderFrom; the wider Body interface is what NewMessage
// requires to go the other way.
func (m *Message) Decode(dst io.ReaderFrom) error {
	if len(m.Body) == 0 {
		return nil
	}
	_, err := dst.ReadFrom(bytes.NewReader(m.Body))
	return err
}

// NewMessage encodes src into a Message with the given type and XID.
func NewMessage(t Type, xid uint32, src Body) (*Message, error) {
	m := &Message{Header: Header{Version: ProtocolVersion, Type: t, XID: xid}}
	if src == nil {
		m.Header.Length = headerLen
		return m, nil
	}

	var buf bytes.Buffer
	if _, err := src.WriteTo(&buf); err != nil {
		return nil, err
	}

	m.Body = buf.Bytes()
	m.Header.Length = uint16(headerLen + len(m.Body))
	return m, nil
}

// WriteTo serializes the full message (header + body) to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := m.Header.WriteTo(w)
	if err != nil {
		return n, err
	}

	if len(m.Body) == 0 {
		return n, nil
	}

	nn, err := w.Write(m.Body)
	return n + int64(nn), err
}

// ReadFrom deserializes a full message (header + body) from r.
func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	n, err := m.Header.ReadFrom(r)
	if err != nil {
		return n, err
	}

	bodyLen := m.Header.BodyLen()
	if bodyLen == 0 {
		return n, nil
	}

	m.Body = make([]byte, bodyLen)
	nn, err := io.ReadFull(r, m.Body)
	return n + int64(nn), err
}
