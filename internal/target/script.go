package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/merklerun/internal/capability"
)

// Script is a YAML step script. Each step performs one boundary operation
// through the Process, in order; the first failing step ends the script.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one operation.
type Step struct {
	Write       *WriteStep   `yaml:"write,omitempty"`
	Append      *WriteStep   `yaml:"append,omitempty"`
	Read        *PathStep    `yaml:"read,omitempty"`
	Stat        *PathStep    `yaml:"stat,omitempty"`
	Connect     *ConnectStep `yaml:"connect,omitempty"`
	Send        *SendStep    `yaml:"send,omitempty"`
	Recv        *RecvStep    `yaml:"recv,omitempty"`
	CloseSocket bool         `yaml:"close_socket,omitempty"`
	Spawn       *SpawnStep   `yaml:"spawn,omitempty"`
	Print       *PrintStep   `yaml:"print,omitempty"`
	Fail        *FailStep    `yaml:"fail,omitempty"`
}

// WriteStep writes Data, or RandomBytes seeded bytes, to Path.
type WriteStep struct {
	Path        string `yaml:"path"`
	Data        string `yaml:"data,omitempty"`
	RandomBytes int    `yaml:"random_bytes,omitempty"`
}

// PathStep names a file.
type PathStep struct {
	Path string `yaml:"path"`
}

// ConnectStep opens a TCP connection.
type ConnectStep struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SendStep sends Data on the script's socket.
type SendStep struct {
	Data string `yaml:"data"`
}

// RecvStep receives up to Bytes bytes from the script's socket.
type RecvStep struct {
	Bytes int `yaml:"bytes"`
}

// SpawnStep runs a subprocess from Argv or a Shell command line.
type SpawnStep struct {
	Argv  []string `yaml:"argv,omitempty"`
	Shell string   `yaml:"shell,omitempty"`
}

// PrintStep writes Text and a newline to stdout.
type PrintStep struct {
	Text string `yaml:"text"`
}

// FailStep aborts the script with Message.
type FailStep struct {
	Message string `yaml:"message"`
}

// StepError reports the step a script failed at.
type StepError struct {
	Index int
	Op    string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ScriptFailure is the error a fail step raises.
type ScriptFailure struct {
	Message string
}

func (e *ScriptFailure) Error() string {
	return e.Message
}

var errNoSocket = errors.New("no open socket")

// Op names the operation the step holds, or "" when it holds none.
func (s Step) Op() string {
	ops := s.ops()
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

func (s Step) ops() []string {
	var ops []string
	if s.Write != nil {
		ops = append(ops, "write")
	}
	if s.Append != nil {
		ops = append(ops, "append")
	}
	if s.Read != nil {
		ops = append(ops, "read")
	}
	if s.Stat != nil {
		ops = append(ops, "stat")
	}
	if s.Connect != nil {
		ops = append(ops, "connect")
	}
	if s.Send != nil {
		ops = append(ops, "send")
	}
	if s.Recv != nil {
		ops = append(ops, "recv")
	}
	if s.CloseSocket {
		ops = append(ops, "close_socket")
	}
	if s.Spawn != nil {
		ops = append(ops, "spawn")
	}
	if s.Print != nil {
		ops = append(ops, "print")
	}
	if s.Fail != nil {
		ops = append(ops, "fail")
	}
	return ops
}

func (s Step) validate() error {
	switch {
	case s.Write != nil && s.Write.RandomBytes < 0:
		return fmt.Errorf("random_bytes must not be negative, got %d", s.Write.RandomBytes)
	case s.Append != nil && s.Append.RandomBytes < 0:
		return fmt.Errorf("random_bytes must not be negative, got %d", s.Append.RandomBytes)
	case s.Recv != nil && s.Recv.Bytes < 0:
		return fmt.Errorf("bytes must not be negative, got %d", s.Recv.Bytes)
	}
	return nil
}

// LoadScript reads and validates a step script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return s, nil
}

// ParseScript decodes and validates a step script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	for i, step := range s.Steps {
		if ops := step.ops(); len(ops) != 1 {
			return nil, fmt.Errorf("step %d: expected exactly one operation, got %d %v", i+1, len(ops), ops)
		}
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op(), err)
		}
	}
	return &s, nil
}

// Main executes the steps in order.
func (s *Script) Main(ctx context.Context, p *Process) error {
	st := &scriptState{}
	defer st.close()

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.exec(ctx, p, step); err != nil {
			return &StepError{Index: i + 1, Op: step.Op(), Err: err}
		}
	}
	return nil
}

type scriptState struct {
	sock capability.Socket
}

func (st *scriptState) socket(p *Process) capability.Socket {
	if st.sock == nil {
		st.sock = p.Socket()
	}
	return st.sock
}

func (st *scriptState) close() {
	if st.sock != nil {
		st.sock.Close()
		st.sock = nil
	}
}

func (st *scriptState) exec(ctx context.Context, p *Process, step Step) error {
	x := func(s string) string { return expand(s, p.Args) }

	switch {
	case step.Write != nil:
		data, err := payload(p, step.Write, x)
		if err != nil {
			return err
		}
		return p.WriteFile(x(step.Write.Path), data, 0o644)

	case step.Append != nil:
		data, err := payload(p, step.Append, x)
		if err != nil {
			return err
		}
		return p.AppendFile(x(step.Append.Path), data)

	case step.Read != nil:
		_, err := p.ReadFile(x(step.Read.Path))
		return err

	case step.Stat != nil:
		_, err := p.Stat(x(step.Stat.Path))
		return err

	case step.Connect != nil:
		st.close()
		return st.socket(p).Connect(ctx, x(step.Connect.Host), step.Connect.Port)

	case step.Send != nil:
		_, err := st.socket(p).Send([]byte(x(step.Send.Data)))
		return err

	case step.Recv != nil:
		data, err := st.socket(p).Recv(step.Recv.Bytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		p.Printf("%s", data)
		return nil

	case step.CloseSocket:
		if st.sock == nil {
			return errNoSocket
		}
		st.close()
		return nil

	case step.Spawn != nil:
		argv := make([]string, len(step.Spawn.Argv))
		for i, a := range step.Spawn.Argv {
			argv[i] = x(a)
		}
		res, err := p.Run(ctx, capability.CommandSpec{Argv: argv, Shell: x(step.Spawn.Shell)})
		if err != nil {
			return err
		}
		p.Printf("%s", res.Stdout)
		if res.Stderr != "" {
			fmt.Fprint(p.Stderr, res.Stderr)
		}
		return nil

	case step.Print != nil:
		p.Printf("%s\n", x(step.Print.Text))
		return nil

	case step.Fail != nil:
		return &ScriptFailure{Message: x(step.Fail.Message)}
	}
	return fmt.Errorf("empty step")
}

func payload(p *Process, w *WriteStep, x func(string) string) ([]byte, error) {
	if w.RandomBytes <= 0 {
		return []byte(x(w.Data)), nil
	}
	r := p.Rand()
	if r == nil {
		return nil, fmt.Errorf("random_bytes requires a seeded run")
	}
	data := make([]byte, w.RandomBytes)
	for i := range data {
		data[i] = byte(r.IntN(256))
	}
	return data, nil
}

// expand substitutes $0..$9 and $@ from args. Other variables come out
// in ${NAME} form; the host environment is never consulted.
func expand(s string, args []string) string {
	return os.Expand(s, func(key string) string {
		if key == "@" {
			if len(args) < 2 {
				return ""
			}
			return strings.Join(args[1:], " ")
		}
		if i, err := strconv.Atoi(key); err == nil {
			if i >= 0 && i < len(args) {
				return args[i]
			}
			return ""
		}
		return "${" + key + "}"
	})
}
