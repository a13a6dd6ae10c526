package pydiscovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrDiscoveryExhausted marks a fatal system-executable search failure:
// every candidate name in every candidate folder was missing or rejected.
var ErrDiscoveryExhausted = errors.New("discovery exhausted")

// ErrCycle marks prefix links that loop across two or more distinct
// prefixes while resolving the system executable.
var ErrCycle = errors.New("prefixes are causing a circle")

// PythonEnvVar overrides which interpreter a Session treats as the host
// interpreter when no spec path is given.
const PythonEnvVar = "PY_DISCOVERY_PYTHON"

type exeCacheKey struct {
	prefix string
	exact  bool
}

type probeFunc func(exe string, env []string) (*PythonInfo, error)

// Session owns the state of discovery runs: the logger, the host interpreter
// records, the (prefix, exact) resolution cache that avoids repeated
// subprocess probes during system-executable walks, and the optional
// persistent probe cache. A Session may be shared between goroutines; its
// caches are mutex guarded.
type Session struct {
	mu            sync.Mutex
	logger        *zap.Logger
	cacheDir      string
	current       *PythonInfo
	currentSystem *PythonInfo
	exeDiscovery  map[exeCacheKey]*PythonInfo

	// probe produces a record for an executable; the default consults the
	// persistent cache around rawProbe. Both are injectable for tests.
	probe    probeFunc
	rawProbe probeFunc
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger routes session logging to the given zap logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithCacheDir enables the persistent probe cache under dir. Without it the
// session never writes anything besides transient probe files.
func WithCacheDir(dir string) SessionOption {
	return func(s *Session) { s.cacheDir = dir }
}

// NewSession creates a discovery session. The zero configuration uses a
// no-op logger and no persistent cache.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		logger:       zap.NewNop(),
		exeDiscovery: map[exeCacheKey]*PythonInfo{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rawProbe == nil {
		s.rawProbe = s.runProbe
	}
	if s.probe == nil {
		s.probe = s.cachedProbe
	}
	return s
}

// ClearCache drops every in-memory cached record.
func (s *Session) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.currentSystem = nil
	s.exeDiscovery = map[exeCacheKey]*PythonInfo{}
}

// FromExe probes the interpreter at exe and resolves it to its backing
// system installation. Probe or resolution failures are returned as errors.
func (s *Session) FromExe(exe string, env []string) (*PythonInfo, error) {
	return s.fromExe(exe, env, true, true)
}

func (s *Session) fromExe(exe string, env []string, raiseOnError, resolveToHost bool) (*PythonInfo, error) {
	if env == nil {
		env = os.Environ()
	}
	info, err := s.probe(exe, env)
	if err != nil {
		if raiseOnError {
			return nil, err
		}
		s.logger.Info("failed interpreter probe", zap.String("exe", exe), zap.Error(err))
		return nil, nil
	}
	if resolveToHost {
		resolved, err := s.resolveToSystem(info, env)
		if err != nil {
			if raiseOnError {
				return nil, err
			}
			s.logger.Info("ignore interpreter, cannot resolve system",
				zap.String("exe", info.OriginalExecutable), zap.Error(err))
			return nil, nil
		}
		info = resolved
	}
	return info, nil
}

// hostPythonPath locates the interpreter this session considers current: the
// PythonEnvVar override when set, else the first python3/python found on the
// search path of env.
func hostPythonPath(env []string) string {
	if v, ok := envValue(env, PythonEnvVar); ok && v != "" {
		return v
	}
	names := []string{"python3", "python"}
	if isWindows() {
		names = []string{"python", "python3"}
	}
	for _, name := range names {
		for _, dir := range getPaths(env) {
			if found := checkPath(name, dir); found != "" {
				return absPath(found)
			}
		}
	}
	return ""
}

// Current returns the host interpreter record without resolving layered
// environments, cached for the session lifetime.
func (s *Session) Current(env []string) (*PythonInfo, error) {
	if env == nil {
		env = os.Environ()
	}
	s.mu.Lock()
	cached := s.current
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	exe := hostPythonPath(env)
	if exe == "" {
		return nil, fmt.Errorf("no host python interpreter found (set %s or PATH)", PythonEnvVar)
	}
	info, err := s.fromExe(exe, env, true, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = info
	s.mu.Unlock()
	return info, nil
}

// CurrentSystem returns the host interpreter resolved to its backing system
// installation, cached for the session lifetime.
func (s *Session) CurrentSystem(env []string) (*PythonInfo, error) {
	if env == nil {
		env = os.Environ()
	}
	s.mu.Lock()
	cached := s.currentSystem
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	exe := hostPythonPath(env)
	if exe == "" {
		return nil, fmt.Errorf("no host python interpreter found (set %s or PATH)", PythonEnvVar)
	}
	info, err := s.fromExe(exe, env, true, true)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.currentSystem = info
	s.mu.Unlock()
	return info, nil
}

// resolveToSystem walks prefix links until a record with a known system
// executable is found, then re-probes from that executable so every field
// describes the base installation while Executable keeps naming what the
// caller asked about. Self-referential single-hop environments are tolerated
// with a notice; cycles across distinct prefixes are fatal.
func (s *Session) resolveToSystem(target *PythonInfo, env []string) (*PythonInfo, error) {
	startExecutable := target.Executable
	var order []string
	seen := map[string]*PythonInfo{}
	for target.SystemExecutable == "" {
		prefix := target.SystemPrefix()
		if _, visited := seen[prefix]; visited {
			if len(seen) == 1 {
				// links straight back to itself, accept with a notice
				s.logger.Info("interpreter links back to itself via prefixes",
					zap.String("exe", target.Executable), zap.String("prefix", prefix))
				target.SystemExecutable = target.Executable
				break
			}
			for at, p := range order {
				s.logger.Error("prefix cycle trail",
					zap.Int("at", at+1), zap.String("prefix", p), zap.String("info", seen[p].String()))
			}
			s.logger.Error("prefix cycle trail",
				zap.Int("at", len(order)+1), zap.String("prefix", prefix), zap.String("info", target.String()))
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(order, "|"))
		}
		seen[prefix] = target
		order = append(order, prefix)
		next, err := s.discoverExe(target, prefix, false, env)
		if err != nil {
			return nil, err
		}
		target = next
	}
	if target.SystemExecutable != "" && target.Executable != target.SystemExecutable {
		outcome, err := s.FromExe(target.SystemExecutable, env)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve to system executable: %w", err)
		}
		target = outcome
	}
	target.Executable = startExecutable
	return target, nil
}

// discoverExe finds the interpreter living at prefix that matches info's own
// implementation, architecture and full version. With exact false, the most
// similar rejected candidate is returned when no exact match exists. Results
// are cached per (prefix, exact) for the session.
func (s *Session) discoverExe(info *PythonInfo, prefix string, exact bool, env []string) (*PythonInfo, error) {
	if env == nil {
		env = os.Environ()
	}
	key := exeCacheKey{prefix: prefix, exact: exact}
	if prefix != "" {
		s.mu.Lock()
		cached := s.exeDiscovery[key]
		s.mu.Unlock()
		if cached != nil {
			s.logger.Debug("discover exe from cache",
				zap.String("prefix", prefix), zap.Bool("exact", exact), zap.String("info", cached.String()))
			return cached, nil
		}
	}
	s.logger.Debug("discover exe", zap.String("for", info.String()), zap.String("in", prefix))

	// we don't know explicitly, guess from our own executable naming
	names := info.possibleExeNames(env)
	folders := info.possibleFolders(prefix)
	var discovered []*PythonInfo
	for _, folder := range folders {
		for _, name := range names {
			found := s.checkExe(info, folder, name, exact, &discovered, env)
			if found != nil {
				s.cacheDiscovered(key, found)
				return found, nil
			}
		}
	}
	if !exact && len(discovered) > 0 {
		best := selectMostLikely(discovered, info)
		s.cacheDiscovered(key, best)
		s.logger.Debug("no exact match found, chose most similar",
			zap.String("info", best.String()),
			zap.String("folders", strings.Join(folders, string(filepath.ListSeparator))))
		return best, nil
	}
	return nil, fmt.Errorf("%w: failed to detect %s in %s",
		ErrDiscoveryExhausted, strings.Join(names, "|"), strings.Join(folders, string(filepath.ListSeparator)))
}

func (s *Session) cacheDiscovered(key exeCacheKey, info *PythonInfo) {
	s.mu.Lock()
	s.exeDiscovery[key] = info
	s.mu.Unlock()
}

// checkExe probes folder/name when it exists and accepts it only on a full
// implementation, architecture and version tuple match against searched.
// Rejected candidates are collected for relaxed selection when exact is off.
func (s *Session) checkExe(searched *PythonInfo, folder, name string, exact bool, discovered *[]*PythonInfo, env []string) *PythonInfo {
	exePath := filepath.Join(folder, name)
	if _, err := os.Stat(exePath); err != nil {
		return nil
	}
	info, err := s.fromExe(exePath, env, false, false)
	if err != nil || info == nil {
		return nil // cannot query, ignore
	}
	mismatch := func(item, found, wanted string) *PythonInfo {
		s.logger.Debug("refused interpreter",
			zap.String("exe", info.Executable), zap.String("because", item),
			zap.String("found", found), zap.String("searched", wanted))
		if !exact {
			*discovered = append(*discovered, info)
		}
		return nil
	}
	if info.Implementation != searched.Implementation {
		return mismatch("implementation", info.Implementation, searched.Implementation)
	}
	if info.Architecture != searched.Architecture {
		return mismatch("architecture", fmt.Sprint(info.Architecture), fmt.Sprint(searched.Architecture))
	}
	if info.VersionInfo != searched.VersionInfo {
		return mismatch("version_info", info.VersionInfo.String(), searched.VersionInfo.String())
	}
	return info
}
