package capability

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// ErrNotConnected is returned by Send and Recv on a socket that has not
// completed Connect.
var ErrNotConnected = errors.New("socket not connected")

// ErrNegativeSize is returned by Recv for a negative byte count.
var ErrNegativeSize = errors.New("negative receive size")

// Socket is a stream socket with explicit connect, send and receive.
type Socket interface {
	Connect(ctx context.Context, host string, port int) error
	Send(p []byte) (int, error)
	Recv(n int) ([]byte, error)
	Close() error
}

// Network creates sockets.
type Network interface {
	Socket() Socket
}

// TCP is the real network, dialing TCP connections.
type TCP struct {
	Timeout time.Duration
}

// Socket returns an unconnected TCP socket.
func (t *TCP) Socket() Socket {
	return &tcpSocket{dialer: net.Dialer{Timeout: t.Timeout}}
}

type tcpSocket struct {
	dialer net.Dialer
	conn   net.Conn
}

func (s *tcpSocket) Connect(ctx context.Context, host string, port int) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *tcpSocket) Send(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	return s.conn.Write(p)
}

// Recv reads at most n bytes. It returns fewer when fewer are available,
// and no bytes with io.EOF once the peer has closed.
func (s *tcpSocket) Recv(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, n)
	read, err := s.conn.Read(buf)
	return buf[:read], err
}

func (s *tcpSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
