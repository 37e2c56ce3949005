package debugserver

import (
	"crypto/tls"
	"net"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server wraps http3.Server lifecycle for the diagnostics handler,
// for deployments that expose debug endpoints over QUIC only.
type HTTP3Server struct {
	pc   net.PacketConn
	srv  *http3.Server
	addr string
}

// NewHTTP3 creates a diagnostics server bound to addr with the given
// TLS config. QUIC requires TLS 1.3; weaker configs are upgraded.
func NewHTTP3(addr string, tlsCfg *tls.Config, extra map[string]GaugeFunc) *HTTP3Server {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	} else if tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13
		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{"h3"}
		}
		tlsCfg = c
	}
	srv := &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: Handler(extra)}
	return &HTTP3Server{srv: srv, addr: addr}
}

// Start begins serving on a UDP socket, returning the bound address.
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.pc = pc
	go func() {
		_ = s.srv.Serve(pc)
	}()
	return pc.LocalAddr().String(), nil
}

// Close shuts the server down and releases the socket.
func (s *HTTP3Server) Close() error {
	err := s.srv.Close()
	if s.pc != nil {
		s.pc.Close()
	}
	return err
}
