package pydiscovery

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeInfo builds a plausible CPython-like record for matcher tests.
func makeInfo(impl string, major, minor, micro, arch int) *PythonInfo {
	exe := "/opt/pythons/bin/python"
	if runtime.GOOS == "windows" {
		exe = `C:\pythons\python.exe`
	}
	return &PythonInfo{
		Platform:       runtime.GOOS,
		Implementation: impl,
		VersionInfo:    VersionInfo{Major: major, Minor: minor, Micro: micro, ReleaseLevel: "final", Serial: 0},
		Architecture:   arch,
		Prefix:         filepath.Dir(filepath.Dir(exe)),
		BasePrefix:     filepath.Dir(filepath.Dir(exe)),
		ExecPrefix:     filepath.Dir(filepath.Dir(exe)),
		Executable:     exe,

		OriginalExecutable: exe,
		SystemExecutable:   exe,
	}
}

func TestInfoSatisfiesVersion(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	assert.True(t, info.Satisfies(NewSpecFromString("python3"), true))
	assert.True(t, info.Satisfies(NewSpecFromString("python3.11"), true))
	assert.True(t, info.Satisfies(NewSpecFromString("python3.11.4"), true))
	assert.False(t, info.Satisfies(NewSpecFromString("python3.10"), true))
	assert.False(t, info.Satisfies(NewSpecFromString("python2"), true))
}

func TestInfoSatisfiesImplementationFlag(t *testing.T) {
	info := makeInfo("PyPy", 3, 10, 0, 64)
	spec := NewSpecFromString("cpython3.10")
	assert.False(t, info.Satisfies(spec, true))
	// a direct lookup bypasses implementation verification
	assert.True(t, info.Satisfies(spec, false))
	// case-insensitive match
	assert.True(t, info.Satisfies(NewSpecFromString("pypy3.10"), true))
}

func TestInfoSatisfiesArchitecture(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 32)
	assert.True(t, info.Satisfies(NewSpecFromString("python-32"), true))
	assert.False(t, info.Satisfies(NewSpecFromString("python-64"), true))
}

func TestInfoSatisfiesAbsolutePath(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	assert.True(t, info.Satisfies(NewSpecFromString(info.Executable), true))

	other := filepath.Join(filepath.Dir(info.Executable), "other")
	assert.False(t, info.Satisfies(NewSpecFromString(other), true))
}

func TestInfoSatisfiesRelativePathBasename(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	base := filepath.Base(info.OriginalExecutable)
	if runtime.GOOS == "windows" {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	// hand-built path specs, the symbolic grammar would swallow these names
	assert.True(t, info.Satisfies(&PythonSpec{
		StrSpec: base, Path: base, Major: -1, Minor: -1, Micro: -1,
	}, true))
	assert.False(t, info.Satisfies(&PythonSpec{
		StrSpec: "pythonX", Path: "pythonX", Major: -1, Minor: -1, Micro: -1,
	}, true))
}

func TestSelectMostLikelyPrefersExactTraits(t *testing.T) {
	target := makeInfo("CPython", 3, 11, 4, 64)
	differentImpl := makeInfo("PyPy", 3, 11, 4, 64)
	differentMinor := makeInfo("CPython", 3, 10, 4, 64)
	exact := makeInfo("CPython", 3, 11, 4, 64)

	chosen := selectMostLikely([]*PythonInfo{differentImpl, differentMinor, exact}, target)
	assert.Same(t, exact, chosen)

	// implementation outweighs every version trait
	chosen = selectMostLikely([]*PythonInfo{differentImpl, differentMinor}, target)
	assert.Same(t, differentMinor, chosen)
}

func TestSelectMostLikelyDeterministic(t *testing.T) {
	target := makeInfo("CPython", 3, 11, 4, 64)
	first := makeInfo("CPython", 3, 10, 1, 64)
	second := makeInfo("CPython", 3, 10, 1, 64) // same score, later in input
	candidates := []*PythonInfo{first, second}
	for i := 0; i < 10; i++ {
		assert.Same(t, first, selectMostLikely(candidates, target))
	}
}

func TestInfoJSONRoundTrip(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	info.SysconfigPaths = map[string]string{"stdlib": "{installed_base}/lib/python{py_version_short}"}
	info.SysconfigVars = map[string]interface{}{"installed_base": "/opt/pythons", "py_version_short": "3.11"}

	payload, err := info.toJSON()
	require.NoError(t, err)
	back, err := infoFromJSON(payload)
	require.NoError(t, err)

	assert.Equal(t, info.VersionInfo, back.VersionInfo)
	assert.Equal(t, info.Executable, back.Executable)
	assert.Equal(t, info.OriginalExecutable, back.OriginalExecutable)
	assert.Equal(t, info.SystemExecutable, back.SystemExecutable)
	assert.Equal(t, info.Prefix, back.Prefix)
	assert.Equal(t, info.SysconfigPaths, back.SysconfigPaths)
}

func TestInfoFromJSONToleratesNulls(t *testing.T) {
	payload := `{
		"platform": "linux",
		"implementation": "CPython",
		"version_info": {"major": 3, "minor": 12, "micro": 1, "releaselevel": "final", "serial": 0},
		"architecture": 64,
		"real_prefix": null,
		"system_executable": null,
		"executable": "/usr/bin/python3.12"
	}`
	info, err := infoFromJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, VersionInfo{Major: 3, Minor: 12, Micro: 1, ReleaseLevel: "final", Serial: 0}, info.VersionInfo)
	assert.Empty(t, info.RealPrefix)
	assert.Empty(t, info.SystemExecutable)
	assert.False(t, info.IsOldVirtualenv())
}

func TestInfoFromJSONMalformed(t *testing.T) {
	_, err := infoFromJSON("not json at all")
	assert.Error(t, err)
}

func TestInfoVersionStrings(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	assert.Equal(t, "3.11.4", info.VersionStr())
	assert.Equal(t, "3.11", info.VersionReleaseStr())
	assert.Equal(t, "python3.11", info.PythonName())
	assert.Equal(t, "CPython3.11.4.final.0-64", info.Spec())
}

func TestInfoSystemPrefixPreference(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	info.Prefix = "/venv"
	info.BasePrefix = "/base"
	info.RealPrefix = "/real"
	assert.Equal(t, "/real", info.SystemPrefix())
	info.RealPrefix = ""
	assert.Equal(t, "/base", info.SystemPrefix())
	info.BasePrefix = ""
	assert.Equal(t, "/venv", info.SystemPrefix())
}

func TestSysconfigPathExpansion(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	info.SysconfigPaths = map[string]string{
		"scripts": "{base}/custom-bin",
		"purelib": "{base}/lib/python{py_version_short}/site-packages",
	}
	info.SysconfigVars = map[string]interface{}{"base": "/opt/py", "py_version_short": "3.11"}

	sep := string(filepath.Separator)
	assert.Equal(t,
		strings.ReplaceAll("/opt/py/custom-bin", "/", sep),
		info.SysconfigPath("scripts", nil))
	assert.Equal(t,
		strings.ReplaceAll("/opt/py/lib/python3.11/site-packages", "/", sep),
		info.SysconfigPath("purelib", map[string]string{"base": "/opt/py"}))
}

func TestInstallPath(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	info.DistutilsInstall = map[string]string{"scripts": "bin"}
	assert.Equal(t, "bin", info.InstallPath("scripts"))

	// without distutils data the sysconfig template is used with prefix
	// valued variables blanked, making the result prefix relative
	info.DistutilsInstall = nil
	info.Prefix = "/opt/py"
	info.SysconfigPaths = map[string]string{"scripts": "{base}/special-bin"}
	info.SysconfigVars = map[string]interface{}{"base": "/opt/py"}
	sep := string(filepath.Separator)
	assert.Equal(t, strings.ReplaceAll("special-bin", "/", sep), info.InstallPath("scripts"))
}

func TestPossibleExeNamesMostSpecificFirst(t *testing.T) {
	info := makeInfo("CPython", 3, 11, 4, 64)
	info.Executable = "/opt/pythons/bin/python3"
	names := info.possibleExeNames([]string{})
	require.NotEmpty(t, names)
	// the generic digit-stripped basename is demoted behind the
	// implementation name, so cpython variants lead
	assert.Equal(t, "cpython3.11.4-64", names[0])
	assert.Equal(t, "cpython3.11.4", names[1])
	assert.Contains(t, names, "cpython3.11")
	assert.Contains(t, names, "python3.11.4-64")
	assert.Contains(t, names, "python")
}
