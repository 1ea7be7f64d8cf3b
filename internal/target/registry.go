package target

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BuiltinPrefix marks built-in programs in begin.target_path.
const BuiltinPrefix = "builtin:"

// ErrUnknownTarget is returned when a target is neither a registered
// program nor a step script.
var ErrUnknownTarget = errors.New("unknown target")

var (
	registryMu sync.RWMutex
	registry   = map[string]Program{}
)

// Register makes a program resolvable by name. It panics on duplicates.
func Register(name string, p Program) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("target: duplicate registration of " + name)
	}
	registry[name] = p
}

// Lookup returns the program registered under name.
func Lookup(name string) (Program, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[strings.TrimPrefix(name, BuiltinPrefix)]
	return p, ok
}

// Names lists registered program names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a target reference to a Program and the path recorded in
// the begin event: builtin:<name> for registered programs, the absolute
// path for step scripts.
func Resolve(ref string) (Program, string, error) {
	if p, ok := Lookup(ref); ok {
		return p, BuiltinPrefix + strings.TrimPrefix(ref, BuiltinPrefix), nil
	}

	switch strings.ToLower(filepath.Ext(ref)) {
	case ".yaml", ".yml":
		script, err := LoadScript(ref)
		if err != nil {
			return nil, "", err
		}
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s: %w", ref, err)
		}
		return script, abs, nil
	}

	return nil, "", fmt.Errorf("%w: %s (registered: %s)", ErrUnknownTarget, ref, strings.Join(Names(), ", "))
}
