package pydiscovery

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	fsCaseOnce      sync.Once
	fsCaseSensitive bool
)

// fsIsCaseSensitive reports whether the filesystem backing the temp directory
// distinguishes file name casing. The answer is determined once per process by
// creating a transient mixed-case file and checking whether its lowercased
// name resolves to the same entry.
func fsIsCaseSensitive() bool {
	fsCaseOnce.Do(func() {
		tmp, err := os.CreateTemp("", "TmP")
		if err != nil {
			// no temp dir to probe, assume the platform default
			fsCaseSensitive = runtime.GOOS != "windows" && runtime.GOOS != "darwin"
			return
		}
		name := tmp.Name()
		tmp.Close()
		defer os.Remove(name)
		_, err = os.Lstat(strings.ToLower(name))
		fsCaseSensitive = os.IsNotExist(err)
	})
	return fsCaseSensitive
}

// envValue returns the value of key within an os.Environ style list.
// The last assignment wins, matching process environment semantics.
func envValue(env []string, key string) (string, bool) {
	prefix := key + "="
	value, found := "", false
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			value, found = kv[len(prefix):], true
		}
	}
	return value, found
}

// scrubEnv copies env with the macOS framework launcher variable removed so a
// probed child reports its own prefixes instead of inheriting ours
// (https://bugs.python.org/issue22490).
func scrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "__PYVENV_LAUNCHER__=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// defaultPath mirrors the platform default search path used when PATH is not
// set at all (CPython's os.defpath).
func defaultPath() string {
	if runtime.GOOS == "windows" {
		return `.;C:\bin`
	}
	return "/bin:/usr/bin"
}

// getPaths splits the PATH entry of env into existing directories, falling
// back to the platform default when PATH is entirely unset.
func getPaths(env []string) []string {
	path, ok := envValue(env, "PATH")
	if !ok {
		path = defaultPath()
	}
	if path == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(path, string(filepath.ListSeparator)) {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// pathExtensions returns the executable extensions to try when generating
// candidate names: always the empty extension first, then the lowercased
// PATHEXT entries on Windows style environments, original order preserved.
func pathExtensions(env []string) []string {
	exts := []string{""}
	seen := map[string]bool{"": true}
	pathExt, _ := envValue(env, "PATHEXT")
	for _, ext := range strings.Split(strings.ToLower(pathExt), string(filepath.ListSeparator)) {
		if !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	return exts
}

// absPath unrolls relative elements without resolving symlinks.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func isWindows() bool { return runtime.GOOS == "windows" }

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
