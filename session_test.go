package pydiscovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHostPythonPathOverride(t *testing.T) {
	env := []string{"PATH=" + t.TempDir(), PythonEnvVar + "=/custom/python"}
	assert.Equal(t, "/custom/python", hostPythonPath(env))
}

func TestHostPythonPathEmptyWhenNothingFound(t *testing.T) {
	assert.Empty(t, hostPythonPath([]string{"PATH=" + t.TempDir()}))
}

func TestCurrentCachesResult(t *testing.T) {
	calls := 0
	s := stubSession(makeInfo("CPython", 3, 11, 4, 64), &calls)
	env := []string{PythonEnvVar + "=/custom/python"}

	first, err := s.Current(env)
	require.NoError(t, err)
	second, err := s.Current(env)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	s.ClearCache()
	_, err = s.Current(env)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCurrentFailsWithoutHostInterpreter(t *testing.T) {
	s := NewSession()
	_, err := s.Current([]string{"PATH=" + t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), PythonEnvVar)
}

func TestFromExeSwallowsProbeFailureWhenAsked(t *testing.T) {
	s := NewSession()
	s.probe = func(exe string, env []string) (*PythonInfo, error) {
		return nil, &ProbeError{Exe: exe, Code: 3}
	}
	info, err := s.fromExe("/some/python", os.Environ(), false, true)
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = s.FromExe("/some/python", os.Environ())
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, 3, probeErr.Code)
}

func TestDiscoverExeExhausted(t *testing.T) {
	s := NewSession()
	info := makeInfo("CPython", 3, 11, 4, 64)
	_, err := s.discoverExe(info, t.TempDir(), false, []string{"PATH=" + t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryExhausted)
}

func TestDiscoverExeCacheHit(t *testing.T) {
	s := NewSession()
	cached := makeInfo("CPython", 3, 11, 4, 64)
	s.exeDiscovery[exeCacheKey{prefix: "/venv", exact: false}] = cached

	info := makeInfo("CPython", 3, 11, 4, 64)
	found, err := s.discoverExe(info, "/venv", false, os.Environ())
	require.NoError(t, err)
	assert.Same(t, cached, found)

	// the exact variant is a distinct cache slot
	_, err = s.discoverExe(info, "/venv", true, []string{"PATH=" + t.TempDir()})
	assert.ErrorIs(t, err, ErrDiscoveryExhausted)
}

func TestResolveToSystemAlreadyResolved(t *testing.T) {
	s := NewSession()
	info := makeInfo("CPython", 3, 11, 4, 64)
	resolved, err := s.resolveToSystem(info, os.Environ())
	require.NoError(t, err)
	assert.Same(t, info, resolved)
}

func TestResolveToSystemSelfLink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewSession(WithLogger(zap.New(core)))

	target := makeInfo("CPython", 3, 11, 4, 64)
	target.SystemExecutable = ""
	target.RealPrefix = "/venv"
	s.exeDiscovery[exeCacheKey{prefix: "/venv", exact: false}] = target

	resolved, err := s.resolveToSystem(target, os.Environ())
	require.NoError(t, err)
	assert.Equal(t, resolved.Executable, resolved.SystemExecutable)
	assert.Equal(t, 1, logs.FilterMessage("interpreter links back to itself via prefixes").Len())
}

func TestResolveToSystemCycleIsFatal(t *testing.T) {
	s := NewSession()

	a := makeInfo("CPython", 3, 11, 4, 64)
	a.SystemExecutable = ""
	a.RealPrefix = "/a"
	b := makeInfo("CPython", 3, 11, 4, 64)
	b.SystemExecutable = ""
	b.RealPrefix = "/b"
	s.exeDiscovery[exeCacheKey{prefix: "/a", exact: false}] = b
	s.exeDiscovery[exeCacheKey{prefix: "/b", exact: false}] = a

	_, err := s.resolveToSystem(a, os.Environ())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "/a|/b")
}

func TestResolveToSystemReprobesBase(t *testing.T) {
	system := makeInfo("CPython", 3, 11, 4, 64)
	system.Executable = "/sys/bin/python3"
	system.OriginalExecutable = "/sys/bin/python3"
	system.SystemExecutable = "/sys/bin/python3"
	system.Prefix = "/sys"

	s := NewSession()
	s.probe = func(exe string, env []string) (*PythonInfo, error) {
		clone := *system
		return &clone, nil
	}

	// the walk lands on a record whose system executable differs from the
	// path it was reached through, forcing a probe of the base binary
	hop := makeInfo("CPython", 3, 11, 4, 64)
	hop.Executable = "/venv/bin/python"
	hop.SystemExecutable = "/sys/bin/python3"

	target := makeInfo("CPython", 3, 11, 4, 64)
	target.Executable = "/venv/bin/python"
	target.SystemExecutable = ""
	target.RealPrefix = "/venv"
	s.exeDiscovery[exeCacheKey{prefix: "/venv", exact: false}] = hop

	resolved, err := s.resolveToSystem(target, os.Environ())
	require.NoError(t, err)
	assert.Equal(t, "/venv/bin/python", resolved.Executable)
	assert.Equal(t, "/sys/bin/python3", resolved.SystemExecutable)
	assert.Equal(t, "/sys", resolved.Prefix)
}

func TestClearCache(t *testing.T) {
	s := NewSession()
	s.current = makeInfo("CPython", 3, 11, 4, 64)
	s.currentSystem = makeInfo("CPython", 3, 11, 4, 64)
	s.exeDiscovery[exeCacheKey{prefix: "/x"}] = s.current

	s.ClearCache()
	assert.Nil(t, s.current)
	assert.Nil(t, s.currentSystem)
	assert.Empty(t, s.exeDiscovery)
}

func TestSessionDefaultsAreUsable(t *testing.T) {
	s := NewSession()
	require.NotNil(t, s.logger)
	require.NotNil(t, s.probe)
	require.NotNil(t, s.rawProbe)
	assert.Empty(t, s.cacheDir)
}

func TestCheckExeCollectsNearMisses(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Base(writeFakeExe(t, dir, "python3"))

	older := makeInfo("CPython", 3, 10, 0, 64)
	s := NewSession()
	s.probe = func(exe string, env []string) (*PythonInfo, error) {
		clone := *older
		clone.Executable = exe
		return &clone, nil
	}

	searched := makeInfo("CPython", 3, 11, 4, 64)
	var discovered []*PythonInfo
	found := s.checkExe(searched, dir, name, false, &discovered, os.Environ())
	assert.Nil(t, found)
	require.Len(t, discovered, 1)
	assert.Equal(t, 3, discovered[0].VersionInfo.Major)
	assert.Equal(t, 10, discovered[0].VersionInfo.Minor)

	// exact mode refuses without collecting
	discovered = nil
	found = s.checkExe(searched, dir, name, true, &discovered, os.Environ())
	assert.Nil(t, found)
	assert.Empty(t, discovered)

	// a missing file is silently skipped
	found = s.checkExe(searched, dir, "python9", false, &discovered, os.Environ())
	assert.Nil(t, found)
	assert.Empty(t, discovered)
}

func TestDiscoverExeRelaxedFallback(t *testing.T) {
	prefix := t.TempDir()
	writeFakeExe(t, prefix, "python")

	older := makeInfo("CPython", 3, 10, 0, 64)
	s := NewSession()
	s.probe = func(exe string, env []string) (*PythonInfo, error) {
		clone := *older
		clone.Executable = exe
		clone.SystemExecutable = exe
		return &clone, nil
	}

	searched := makeInfo("CPython", 3, 11, 4, 64)
	searched.Prefix = prefix
	searched.Executable = "" // only the prefix folder itself is scanned

	found, err := s.discoverExe(searched, prefix, false, []string{"PATH=" + prefix})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 10, found.VersionInfo.Minor)

	// the relaxed outcome is cached for the session
	cached, err := s.discoverExe(searched, prefix, false, []string{"PATH=" + prefix})
	require.NoError(t, err)
	assert.Same(t, found, cached)
}
