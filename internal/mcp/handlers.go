package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
	"github.com/ppiankov/merklerun/internal/verify"
)

// --- Input/Output types ---

// RunInput defines parameters for the merklerun_run tool.
type RunInput struct {
	Target   string `json:"target" jsonschema:"built-in program name or path to a YAML step script"`
	Args     string `json:"args,omitempty" jsonschema:"argument string, split on whitespace"`
	Seed     *int64 `json:"seed,omitempty" jsonschema:"run seed, defaults to the configured seed"`
	AllowNet *bool  `json:"allow_net,omitempty" jsonschema:"permit network operations"`
	Out      string `json:"out,omitempty" jsonschema:"manifest output path, defaults to the configured path"`
}

// RunOutput summarizes a finished run.
type RunOutput struct {
	ManifestPath string         `json:"manifest_path"`
	RootHash     string         `json:"root_hash"`
	Events       int            `json:"events"`
	Counts       map[string]int `json:"counts"`
	Blocked      int            `json:"blocked"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	Stdout       string         `json:"stdout,omitempty"`
}

// VerifyInput defines parameters for the merklerun_verify tool.
type VerifyInput struct {
	Target    string `json:"target" jsonschema:"built-in program name or path to a YAML step script"`
	Reference string `json:"reference" jsonschema:"path to the reference manifest"`
	Seed      *int64 `json:"seed,omitempty" jsonschema:"run seed, defaults to the configured seed"`
	AllowNet  *bool  `json:"allow_net,omitempty" jsonschema:"permit network operations"`
}

// DiffInput defines parameters for the merklerun_diff tool.
type DiffInput struct {
	A string `json:"a" jsonschema:"path to the first manifest"`
	B string `json:"b" jsonschema:"path to the second manifest"`
}

// ChainInput defines parameters for the merklerun_chain tool.
type ChainInput struct {
	Manifest string `json:"manifest" jsonschema:"path to the manifest to check"`
}

// --- Handlers ---

func (s *Server) handleRun(ctx context.Context, req *mcpsdk.CallToolRequest, input RunInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	prog, targetPath, err := target.Resolve(input.Target)
	if err != nil {
		return nil, RunOutput{}, err
	}
	out := input.Out
	if out == "" {
		out = s.defaults.Out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stdout bytes.Buffer
	m, runErr := runner.Run(ctx, prog, targetPath, runner.Options{
		Args:     input.Args,
		Seed:     s.seed(input.Seed),
		AllowNet: s.allowNet(input.AllowNet),
		Stdout:   &stdout,
		Logger:   s.logger,
	})
	var te *runner.TargetError
	if runErr != nil && !errors.As(runErr, &te) {
		return nil, RunOutput{}, runErr
	}

	if err := store.Save(out, m); err != nil {
		return nil, RunOutput{}, err
	}
	s.record(ctx, m, out)

	sum := audit.Summarize(m)
	counts := make(map[string]int, len(sum.Counts))
	for k, n := range sum.Counts {
		counts[string(k)] = n
	}
	result := RunOutput{
		ManifestPath: out,
		RootHash:     m.RootHash,
		Events:       sum.Total,
		Counts:       counts,
		Blocked:      sum.Blocked,
		Status:       sum.Status,
		Stdout:       stdout.String(),
	}
	if te != nil {
		result.Error = te.Recorded
		return &mcpsdk.CallToolResult{IsError: true}, result, nil
	}
	return nil, result, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, verify.Result, error) {
	ref, err := store.Load(input.Reference)
	if err != nil {
		return nil, verify.Result{}, err
	}
	prog, targetPath, err := target.Resolve(input.Target)
	if err != nil {
		return nil, verify.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, _, err := verify.Verify(ctx, prog, targetPath, ref, verify.Options{
		Seed:     s.seed(input.Seed),
		AllowNet: s.allowNet(input.AllowNet),
		Run:      runner.Options{Logger: s.logger},
	})
	if err != nil {
		return nil, verify.Result{}, err
	}
	if !res.OK {
		return &mcpsdk.CallToolResult{IsError: true}, *res, nil
	}
	return nil, *res, nil
}

func (s *Server) handleDiff(ctx context.Context, req *mcpsdk.CallToolRequest, input DiffInput) (*mcpsdk.CallToolResult, verify.DiffResult, error) {
	a, err := store.Load(input.A)
	if err != nil {
		return nil, verify.DiffResult{}, err
	}
	b, err := store.Load(input.B)
	if err != nil {
		return nil, verify.DiffResult{}, err
	}
	r := verify.Diff(a, b)
	r.PathA, r.PathB = input.A, input.B
	return nil, *r, nil
}

func (s *Server) handleChain(ctx context.Context, req *mcpsdk.CallToolRequest, input ChainInput) (*mcpsdk.CallToolResult, audit.VerifyResult, error) {
	m, err := store.Load(input.Manifest)
	if err != nil {
		return nil, audit.VerifyResult{}, err
	}
	res := audit.VerifyChain(m)
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, res, nil
	}
	return nil, res, nil
}

func (s *Server) seed(v *int64) int64 {
	if v != nil {
		return *v
	}
	return s.defaults.Seed
}

func (s *Server) allowNet(v *bool) bool {
	if v != nil {
		return *v
	}
	return s.defaults.AllowNet
}

func (s *Server) record(ctx context.Context, m *audit.Manifest, path string) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(ctx, store.RecordFor(m, path)); err != nil {
		s.logger.Warn("history record failed", "error", fmt.Errorf("mcp: %w", err))
	}
}
