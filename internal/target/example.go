package target

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func init() {
	Register("example", ProgramFunc(example))
}

// example writes 1024 seeded random bytes to out.bin, reads them back and
// prints their size and digest.
func example(ctx context.Context, p *Process) error {
	r := p.Rand()
	if r == nil {
		return fmt.Errorf("example: no seeded generator")
	}
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(r.IntN(256))
	}

	if err := p.WriteFile("out.bin", data, 0o644); err != nil {
		return err
	}

	back, err := p.ReadFile("out.bin")
	if err != nil {
		return err
	}
	sum := sha256.Sum256(back)
	p.Printf("size=%d sha256=%s\n", len(back), hex.EncodeToString(sum[:]))
	return nil
}
