package udp

import (
	"fmt"
	"net"
	"sync"

	applog "beatline/internal/log"
)

// Sender owns one connected UDP socket. Safe for concurrent use.
type Sender struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// NewSender dials target ("host:port"). A UDP connect only fixes the
// destination; delivery failures show up per send, if at all.
func NewSender(target string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve udp target %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %q: %w", target, err)
	}
	applog.Infof("Transport: udp sender targeting %s", conn.RemoteAddr())
	return &Sender{conn: conn}, nil
}

// Send transmits one datagram.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("udp sender closed")
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("send udp packet: %w", err)
	}
	return nil
}

// Close shuts the socket down. Further sends fail.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
