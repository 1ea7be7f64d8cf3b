// Package capability defines the OS-facing primitives a target may use
// and their real implementations. A run hands its target a *Set; the
// instrumented implementations in package intercept are swapped into the
// same Set for the duration of one run.
package capability

// Set is the capability bindings of one orchestrated run. It is owned by
// the orchestrator; only the orchestrator installs into or restores it.
type Set struct {
	FS   FileSystem
	Net  Network
	Proc Spawner
}

// Real returns a Set bound to the operating system.
func Real() *Set {
	return &Set{
		FS:   OS{},
		Net:  &TCP{},
		Proc: Exec{},
	}
}
