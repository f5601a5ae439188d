package storage

import "github.com/olakai/olakai-go/internal/envdetect"

// Environment is the set of runtime facts the selector needs. Abstracting
// it behind an interface keeps DetectOptimalType a pure function that tests
// can drive without faking global process state.
type Environment interface {
	// IsBrowserLike reports a js/wasm runtime with no usable filesystem.
	IsBrowserLike() bool
	// IsContainerized reports orchestration-platform markers or a
	// container-style hostname.
	IsContainerized() bool
	// IsServerless reports a known function-as-a-service platform.
	IsServerless() bool
	// IsReadOnlyFS reports that the cache directory cannot be written.
	IsReadOnlyFS() bool
}

// ProcessEnvironment returns the Environment backed by the real process:
// env markers, hostname, and a write probe against cacheDir.
func ProcessEnvironment(cacheDir string) Environment {
	dir, err := resolveCacheDir(cacheDir)
	if err != nil {
		// No home directory resolvable; probe the temp dir instead so the
		// read-only check still means something.
		dir = ""
	}
	return envdetect.New(dir)
}

// DetectOptimalType picks the best-fit adapter for an environment.
//
// Containers and serverless runtimes get memory: their filesystems are
// ephemeral or read-only, and a file that dies with the sandbox buys
// nothing over a map. A js/wasm runtime has no filesystem at all. Only a
// plain long-lived server earns the file adapter. The localstore and
// postgres variants are opt-in and never auto-selected.
func DetectOptimalType(env Environment) Type {
	if env.IsBrowserLike() {
		return TypeMemory
	}
	if env.IsContainerized() {
		return TypeMemory
	}
	if env.IsServerless() || env.IsReadOnlyFS() {
		return TypeMemory
	}
	return TypeFile
}
