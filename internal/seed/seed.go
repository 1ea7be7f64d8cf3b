// Package seed establishes the deterministic starting condition of a run:
// a registry of named pseudo-random sources, each seeded from the run seed
// or reported unavailable.
package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"math/rand/v2"
	"sync"
)

// ErrUnavailable reports that a source cannot be seeded in this
// environment. It is never fatal to a run.
var ErrUnavailable = errors.New("seed source unavailable")

// Source is one seedable pseudo-random generator.
type Source interface {
	Name() string
	Seed(seed int64) error
}

// Outcome is the result of seeding one source.
type Outcome struct {
	Lib    string
	Seeded bool
	Err    error
}

// Registry is an ordered list of sources evaluated once at run start.
type Registry struct {
	sources []Source
}

// NewRegistry returns a registry over the given sources, in order.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Register appends a source.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// Sources returns the registered sources in evaluation order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// SeedAll seeds every source. A source returning ErrUnavailable (or any
// other error) is reported as not seeded; SeedAll itself never fails.
func (r *Registry) SeedAll(seed int64) []Outcome {
	outcomes := make([]Outcome, 0, len(r.sources))
	for _, s := range r.sources {
		err := s.Seed(seed)
		outcomes = append(outcomes, Outcome{Lib: s.Name(), Seeded: err == nil, Err: err})
	}
	return outcomes
}

// Defaults returns the run-scoped generators handed to a target together
// with the registry that seeds them.
func Defaults() (*Registry, *Generators) {
	g := &Generators{}
	return NewRegistry(
		&mathRand{g: g},
		&pcg{g: g},
		&chacha{g: g},
		globalRand{},
	), g
}

// Generators are the run-scoped generators a target draws from.
// They are nil until seeded.
type Generators struct {
	mu     sync.Mutex
	legacy *mrand.Rand
	pcg    *rand.Rand
	chacha *rand.Rand
}

// Rand returns the PCG-backed generator.
func (g *Generators) Rand() *rand.Rand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pcg
}

// Legacy returns the math/rand generator.
func (g *Generators) Legacy() *mrand.Rand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.legacy
}

// ChaCha8 returns the ChaCha8-backed generator.
func (g *Generators) ChaCha8() *rand.Rand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chacha
}

type mathRand struct{ g *Generators }

func (*mathRand) Name() string { return "math/rand" }

func (m *mathRand) Seed(seed int64) error {
	m.g.mu.Lock()
	m.g.legacy = mrand.New(mrand.NewSource(seed))
	m.g.mu.Unlock()
	return nil
}

type pcg struct{ g *Generators }

func (*pcg) Name() string { return "math/rand/v2.pcg" }

func (p *pcg) Seed(seed int64) error {
	p.g.mu.Lock()
	p.g.pcg = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	p.g.mu.Unlock()
	return nil
}

type chacha struct{ g *Generators }

func (*chacha) Name() string { return "math/rand/v2.chacha8" }

// Seed derives the 32-byte ChaCha8 key from SHA-256 of the seed.
func (c *chacha) Seed(seed int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	key := sha256.Sum256(buf[:])
	c.g.mu.Lock()
	c.g.chacha = rand.New(rand.NewChaCha8(key))
	c.g.mu.Unlock()
	return nil
}

// globalRand seeds the process-wide math/rand generator. Since Go 1.24
// rand.Seed is a no-op unless GODEBUG=randseednop=0, so the seed is
// probed and the source reported unavailable when it did not take.
type globalRand struct{}

func (globalRand) Name() string { return "math/rand.global" }

func (globalRand) Seed(seed int64) error {
	mrand.Seed(seed)
	want := mrand.New(mrand.NewSource(seed)).Int63()
	if mrand.Int63() != want {
		return fmt.Errorf("%w: rand.Seed is a no-op in this runtime", ErrUnavailable)
	}
	mrand.Seed(seed)
	return nil
}

// Unavailable returns a source that always reports ErrUnavailable.
func Unavailable(name string) Source {
	return unavailable(name)
}

type unavailable string

func (u unavailable) Name() string { return string(u) }

func (u unavailable) Seed(int64) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, string(u))
}
