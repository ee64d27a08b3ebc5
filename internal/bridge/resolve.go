package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WorkerName is the bundled worker binary, built for the legacy client's
// word size (GOARCH=386).
const WorkerName = "siapxml-worker-386"

// HostWorkerCommand is the host subcommand that serves the worker
// protocol when no bundled runtime is present.
const HostWorkerCommand = "worker"

// Executable is a resolved worker: the program and the arguments that
// precede the script selector.
type Executable struct {
	Path    string
	Prefix  []string
	Bundled bool
}

// ResolveWorker finds the worker executable. Order: configured path,
// bundled runtime next to the host binary, bundled runtime on PATH,
// then the host binary itself.
func ResolveWorker(configured string) (Executable, error) {
	if configured != "" {
		if filepath.IsAbs(configured) {
			if _, err := os.Stat(configured); err != nil {
				return Executable{}, fmt.Errorf("configured worker %s: %w", configured, err)
			}
			return Executable{Path: configured, Bundled: true}, nil
		}
		p, err := exec.LookPath(configured)
		if err != nil {
			return Executable{}, fmt.Errorf("configured worker %s: %w", configured, err)
		}
		return Executable{Path: p, Bundled: true}, nil
	}

	name := WorkerName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	host, err := os.Executable()
	if err != nil {
		return Executable{}, fmt.Errorf("locate host executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(host); err == nil {
		host = resolved
	}

	dir := filepath.Dir(host)
	candidates := []string{
		filepath.Join(dir, name),
		filepath.Join(dir, "runtime", name),
		filepath.Join(dir, "..", "runtime", name), // development tree: bin/ + runtime/
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return Executable{Path: c, Bundled: true}, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return Executable{Path: p, Bundled: true}, nil
	}

	// No isolated runtime: the host serves the protocol itself.
	return Executable{Path: host, Prefix: []string{HostWorkerCommand}}, nil
}
