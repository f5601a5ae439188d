// Package envdetect inspects the running process to answer the deployment
// questions the storage selector asks: is this a container, a serverless
// sandbox, a wasm runtime, or a plain server with a writable disk?
package envdetect

import (
	"os"
	"regexp"
	"runtime"
)

// Environment variables that identify orchestrated or serverless platforms.
var (
	containerMarkers = []string{
		"KUBERNETES_SERVICE_HOST",
		"ECS_CONTAINER_METADATA_URI",
		"ECS_CONTAINER_METADATA_URI_V4",
		"NOMAD_ALLOC_ID",
	}
	serverlessMarkers = []string{
		"AWS_LAMBDA_FUNCTION_NAME",
		"FUNCTIONS_WORKER_RUNTIME", // Azure Functions
		"K_SERVICE",                // Cloud Run / Cloud Functions
		"VERCEL",
		"NETLIFY",
	}
)

// Docker assigns twelve hex characters; Kubernetes appends a replica-set
// hash and a five-character pod suffix.
var (
	dockerHostname = regexp.MustCompile(`^[0-9a-f]{12}$`)
	podHostname    = regexp.MustCompile(`-[0-9a-f]{8,10}-[0-9a-z]{5}$`)
)

// Detector implements the storage selector's Environment interface against
// the real process.
type Detector struct {
	// cacheDir is the directory the write probe targets. Empty means the
	// OS temp directory.
	cacheDir string
}

// New returns a Detector probing writability of cacheDir.
func New(cacheDir string) *Detector {
	return &Detector{cacheDir: cacheDir}
}

// IsBrowserLike reports a runtime compiled for js/wasm, which has no
// filesystem the file adapter could use.
func (d *Detector) IsBrowserLike() bool {
	return runtime.GOOS == "js" || runtime.GOOS == "wasip1"
}

// IsContainerized reports container runtime files, orchestrator env
// markers, or a container-style hostname.
func (d *Detector) IsContainerized() bool {
	for _, marker := range containerMarkers {
		if os.Getenv(marker) != "" {
			return true
		}
	}
	for _, f := range []string{"/.dockerenv", "/run/.containerenv"} {
		if _, err := os.Stat(f); err == nil {
			return true
		}
	}
	if host, err := os.Hostname(); err == nil {
		if dockerHostname.MatchString(host) || podHostname.MatchString(host) {
			return true
		}
	}
	return false
}

// IsServerless reports a known function-as-a-service platform.
func (d *Detector) IsServerless() bool {
	for _, marker := range serverlessMarkers {
		if os.Getenv(marker) != "" {
			return true
		}
	}
	return false
}

// IsReadOnlyFS probes the cache directory with a create-and-delete of a
// scratch file. Any failure counts as read-only: whether the cause is a
// ro-mount, permissions, or a missing home, the file adapter cannot work.
func (d *Detector) IsReadOnlyFS() bool {
	dir := d.cacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return true
	}
	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return true
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return false
}
