package ofputil

import (
	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// EchoHandler returns a receive handler that replies to every
// echo-request with an echo-reply carrying the same payload, as the
// keepalive protocol of spec.md §4.2 requires. The optional next
// handler, if given, is invoked afterwards with the same message.
func EchoHandler(next ofconn.Handler) ofconn.Handler {
	fn := func(s *ofconn.Session, m *ofconn.Message) {
		var req ofp.EchoRequest
		if err := m.Decode(&req); err != nil {
			logrus.WithError(err).Warn("ofputil: failed to decode echo request")
			return
		}

		reply, err := ofconn.NewMessage(ofconn.TypeEchoReply, m.Header.XID, &ofp.EchoReply{Data: req.Data})
		if err == nil {
			s.Send(reply)
		}

		if next != nil {
			next.Serve(s, m)
		}
	}

	return ofconn.HandlerFunc(fn)
}

// HelloHandler returns a receive handler that replies to a hello with a
// hello carrying the given protocol version, preserving the
// transaction id of the inbound message.
func HelloHandler(version uint8, next ofconn.Handler) ofconn.Handler {
	fn := func(s *ofconn.Session, m *ofconn.Message) {
		reply, err := ofconn.NewMessage(ofconn.TypeHello, m.Header.XID, nil)
		if err == nil {
			reply.Header.Version = version
			s.Send(reply)
		}

		if next != nil {
			next.Serve(s, m)
		}
	}

	return ofconn.HandlerFunc(fn)
}
