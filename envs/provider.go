// Package envs provisions isolated per-workload runtime environments.
package envs

import "context"

// Provider creates and destroys isolated dependency environments. The core
// treats the environment as an opaque capability: it only asks for the
// runtime path and checks existence.
type Provider interface {
	// Create provisions a fresh environment for a workload.
	Create(ctx context.Context, workloadName string) error

	// InstallDependencies installs the declared dependencies from a
	// manifest file (e.g. requirements.txt) into the environment.
	InstallDependencies(ctx context.Context, workloadName, manifestPath string) error

	// Remove deletes the environment.
	Remove(workloadName string) error

	// RuntimePath returns the interpreter/executable used to run the
	// workload (e.g. the environment's python binary).
	RuntimePath(workloadName string) string

	// Exists reports whether a usable environment is present.
	Exists(workloadName string) bool
}
