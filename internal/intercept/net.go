package intercept

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
	"github.com/ppiankov/merklerun/internal/enforce"
)

type network struct {
	real   capability.Network
	rec    Recorder
	policy enforce.NetPolicy
}

func (n *network) Socket() capability.Socket {
	return &socket{real: n.real.Socket(), rec: n.rec, policy: n.policy}
}

// socket checks policy before every operation. A denied operation is
// recorded as a net_block* event and fails without touching the real socket.
type socket struct {
	real   capability.Socket
	rec    Recorder
	policy enforce.NetPolicy
}

func (s *socket) Connect(ctx context.Context, host string, port int) error {
	fields := audit.Fields{"host": host, "port": port}
	if err := s.policy.Check(enforce.OpConnect, net.JoinHostPort(host, strconv.Itoa(port))); err != nil {
		if _, recErr := s.rec.Append(audit.KindNetBlock, fields); recErr != nil {
			return recErr
		}
		return err
	}
	if _, err := s.rec.Append(audit.KindNetConnect, fields); err != nil {
		return err
	}
	return s.real.Connect(ctx, host, port)
}

func (s *socket) Send(p []byte) (int, error) {
	if err := s.policy.Check(enforce.OpSend, ""); err != nil {
		if _, recErr := s.rec.Append(audit.KindNetBlockSend, audit.Fields{"bytes": len(p)}); recErr != nil {
			return 0, recErr
		}
		return 0, err
	}
	if _, err := s.rec.Append(audit.KindNetSend, audit.Fields{"bytes": len(p), "sha256": digest(p)}); err != nil {
		return 0, err
	}
	return s.real.Send(p)
}

// Recv records the bytes actually received, not the requested size. A
// closed peer (io.EOF) is recorded as an empty receive.
func (s *socket) Recv(n int) ([]byte, error) {
	if err := s.policy.Check(enforce.OpRecv, ""); err != nil {
		if _, recErr := s.rec.Append(audit.KindNetBlockRecv, audit.Fields{"requested_bytes": n}); recErr != nil {
			return nil, recErr
		}
		return nil, err
	}
	data, err := s.real.Recv(n)
	if err != nil && len(data) == 0 && !errors.Is(err, io.EOF) {
		return data, err
	}
	if _, recErr := s.rec.Append(audit.KindNetRecv, audit.Fields{"bytes": len(data), "sha256": digest(data)}); recErr != nil {
		return nil, recErr
	}
	return data, err
}

func (s *socket) Close() error {
	return s.real.Close()
}

func digest(p []byte) string {
	h := sha256.Sum256(p)
	return hex.EncodeToString(h[:])
}
