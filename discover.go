package pydiscovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Builtin is the built-in discovery mechanism: an ordered list of spec
// strings plus interpreters to try before the search starts. The first spec
// that resolves wins.
type Builtin struct {
	session      *Session
	specs        []string
	tryFirstWith []string
	env          []string

	hasRun      bool
	interpreter *PythonInfo
	runErr      error
}

// NewBuiltin creates the discovery mechanism. With no specs the host
// interpreter is the implied target. A nil env means the process
// environment.
func NewBuiltin(session *Session, specs, tryFirstWith []string, env []string) *Builtin {
	if env == nil {
		env = os.Environ()
	}
	if len(specs) == 0 {
		if host := hostPythonPath(env); host != "" {
			specs = []string{host}
		}
	}
	return &Builtin{session: session, specs: specs, tryFirstWith: tryFirstWith, env: env}
}

// Run discovers an interpreter: the first spec satisfied by a candidate
// wins. A nil, nil return means no interpreter matched, which is a normal
// outcome, not an error.
func (b *Builtin) Run() (*PythonInfo, error) {
	for _, spec := range b.specs {
		result, err := GetInterpreter(b.session, spec, b.tryFirstWith, b.env)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// Interpreter returns the Run result, computed once and cached.
func (b *Builtin) Interpreter() (*PythonInfo, error) {
	if !b.hasRun {
		b.interpreter, b.runErr = b.Run()
		b.hasRun = true
	}
	return b.interpreter, b.runErr
}

func (b *Builtin) String() string {
	spec := strings.Join(b.specs, ", ")
	if len(b.specs) == 1 {
		spec = b.specs[0]
	}
	return fmt.Sprintf("Builtin discover of python_spec=%q", spec)
}

type proposedKey struct {
	systemExecutable string
	implMustMatch    bool
}

// GetInterpreter resolves one spec string against the host: candidates are
// proposed source by source and the first record satisfying the spec is
// returned immediately. A nil, nil return means nothing satisfied the spec;
// errors are reserved for fatal conditions such as a missing absolute path.
func GetInterpreter(s *Session, key string, tryFirstWith []string, env []string) (*PythonInfo, error) {
	if env == nil {
		env = os.Environ()
	}
	spec := NewSpecFromString(key)
	s.logger.Info("find interpreter for spec", zap.String("spec", spec.String()))

	proposed := map[proposedKey]bool{}
	var result *PythonInfo
	err := proposeInterpreters(s, spec, tryFirstWith, env, func(info *PythonInfo, implMustMatch bool) bool {
		lookup := proposedKey{systemExecutable: info.SystemExecutable, implMustMatch: implMustMatch}
		if proposed[lookup] {
			return true
		}
		s.logger.Info("proposed", zap.String("interpreter", info.String()))
		if info.Satisfies(spec, implMustMatch) {
			s.logger.Debug("accepted", zap.String("interpreter", info.String()))
			result = info
			return false
		}
		proposed[lookup] = true
		return true
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// proposeInterpreters yields candidate records in priority order: explicit
// try-first paths, the spec's own path, the host interpreter plus PEP-514
// registrations, and finally a PATH scan. yield returns false to stop.
// Probe failures are swallowed here; only a missing absolute path is fatal.
func proposeInterpreters(s *Session, spec *PythonSpec, tryFirstWith []string, env []string, yield func(*PythonInfo, bool) bool) error {
	// 0. interpreters the caller wants tried before anything else
	for _, pyExe := range tryFirstWith {
		path := absPath(pyExe)
		// Windows Store pythons fail os.Stat but pass Lstat
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		info, _ := s.fromExe(path, env, false, true)
		if info != nil && !yield(info, true) {
			return nil
		}
	}

	if spec.Path != "" {
		// 1. an explicit path, if it exists
		if _, err := os.Lstat(spec.Path); err != nil {
			if spec.IsAbs() {
				return fmt.Errorf("failed to find interpreter at %s: %w", spec.Path, err)
			}
		} else {
			info, _ := s.fromExe(absPath(spec.Path), env, false, true)
			if info != nil && !yield(info, true) {
				return nil
			}
		}
		if spec.IsAbs() {
			// absolute paths are a hard requirement, no other source applies
			return nil
		}
	} else {
		// 2. the interpreter backing this session
		if current, err := s.CurrentSystem(env); err != nil {
			s.logger.Info("no current interpreter available", zap.Error(err))
		} else if !yield(current, true) {
			return nil
		}

		// 3. PEP-514 registrations, Windows only
		if isWindows() {
			if stop := proposeFromRegistry(s, spec, env, yield); stop {
				return nil
			}
		}
	}

	// 4. scan the search path; its order is the signal most easily
	// controlled by the end user, so it is consulted last
	testedExes := map[string]bool{}
	for pos, dir := range getPaths(env) {
		s.logger.Debug("discover PATH", zap.Int("at", pos), zap.String("dir", dir))
		for _, candidate := range possibleSpecs(spec) {
			found := checkPath(candidate.Name, dir)
			if found == "" {
				continue
			}
			exe := absPath(found)
			if testedExes[exe] {
				continue
			}
			testedExes[exe] = true
			info, _ := s.fromExe(exe, env, false, true)
			if info != nil && !yield(info, candidate.ImplMustMatch) {
				return nil
			}
		}
	}
	return nil
}

// proposeFromRegistry adapts PEP-514 registrations into candidates. Entries
// are pre-filtered against the spec before the expensive probe. Returns true
// when the consumer stopped the stream.
func proposeFromRegistry(s *Session, spec *PythonSpec, env []string, yield func(*PythonInfo, bool) bool) bool {
	for _, entry := range DiscoverPythons(s.logger) {
		name := entry.Company
		if name == "PythonCore" || name == "ContinuumAnalytics" {
			name = "CPython"
		}
		registrySpec := &PythonSpec{
			Implementation: name,
			Major:          entry.Major,
			Minor:          entry.Minor,
			Micro:          entry.Micro,
			Architecture:   entry.Architecture,
			Path:           entry.Executable,
		}
		if !registrySpec.Satisfies(spec) {
			continue
		}
		info, _ := s.fromExe(entry.Executable, env, false, true)
		if info != nil && !yield(info, true) {
			return true
		}
	}
	return false
}

// possibleSpecs lists candidate basenames for the PATH scan: first the
// literal input string (a direct lookup bypasses implementation
// verification), then the names generated from the spec.
func possibleSpecs(spec *PythonSpec) []NameCandidate {
	out := make([]NameCandidate, 0, 8)
	if spec.StrSpec != "" {
		out = append(out, NameCandidate{Name: spec.StrSpec, ImplMustMatch: false})
	}
	return append(out, spec.GenerateNames()...)
}

// checkPath resolves candidate as a file directly or joined under dir,
// appending the executable suffix on Windows when absent.
func checkPath(candidate, dir string) string {
	if isWindows() && filepath.Ext(candidate) != ".exe" {
		candidate += ".exe"
	}
	if isFile(candidate) {
		return candidate
	}
	if joined := filepath.Join(dir, candidate); isFile(joined) {
		return joined
	}
	return ""
}
