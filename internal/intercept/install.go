// Package intercept provides instrumented capability implementations.
// Each wrapper emits one audit event per boundary-crossing call, enforces
// the network policy, and delegates to the implementation it replaced.
package intercept

import (
	"sync"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
	"github.com/ppiankov/merklerun/internal/enforce"
)

// Recorder receives intercepted events. *audit.Log satisfies it.
type Recorder interface {
	Append(kind audit.Kind, fields audit.Fields) (string, error)
}

// Install swaps instrumented file, network and process capabilities into
// set and returns the function that restores exactly the bindings present
// at install time. The returned function is safe to call more than once.
func Install(set *capability.Set, rec Recorder, policy enforce.NetPolicy) (restore func()) {
	restoreFiles := InstallFiles(set, rec)
	restoreNet := InstallNetwork(set, rec, policy)
	restoreProc := InstallProcess(set, rec)

	return func() {
		restoreProc()
		restoreNet()
		restoreFiles()
	}
}

// InstallFiles instruments only the file capability of set.
func InstallFiles(set *capability.Set, rec Recorder) (restore func()) {
	saved := set.FS
	set.FS = &fileSystem{real: saved, rec: rec}
	return once(func() { set.FS = saved })
}

// InstallNetwork instruments only the network capability of set.
func InstallNetwork(set *capability.Set, rec Recorder, policy enforce.NetPolicy) (restore func()) {
	saved := set.Net
	set.Net = &network{real: saved, rec: rec, policy: policy}
	return once(func() { set.Net = saved })
}

// InstallProcess instruments only the process capability of set.
func InstallProcess(set *capability.Set, rec Recorder) (restore func()) {
	saved := set.Proc
	set.Proc = &spawner{real: saved, rec: rec}
	return once(func() { set.Proc = saved })
}

func once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}
