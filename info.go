package pydiscovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
)

// VersionInfo mirrors sys.version_info: a 5-field ordered version structure.
type VersionInfo struct {
	Major        int    `json:"major" msgpack:"major"`
	Minor        int    `json:"minor" msgpack:"minor"`
	Micro        int    `json:"micro" msgpack:"micro"`
	ReleaseLevel string `json:"releaselevel" msgpack:"releaselevel"`
	Serial       int    `json:"serial" msgpack:"serial"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d.%s.%d", v.Major, v.Minor, v.Micro, v.ReleaseLevel, v.Serial)
}

// PythonInfo contains the introspected description of one concrete
// interpreter instance as self-reported by the probe script. Field names
// track the wire schema; absent string fields stay empty.
//
// An info is mutable while it is being constructed and resolved (Executable
// and SystemExecutable are rewritten by the system resolver) and must be
// treated as immutable once handed back to a caller.
type PythonInfo struct {
	Platform       string      `json:"platform" msgpack:"platform"`
	Implementation string      `json:"implementation" msgpack:"implementation"`
	VersionInfo    VersionInfo `json:"version_info" msgpack:"version_info"`
	Architecture   int         `json:"architecture" msgpack:"architecture"`
	Version        string      `json:"version" msgpack:"version"`
	VersionNodot   string      `json:"version_nodot" msgpack:"version_nodot"`
	OS             string      `json:"os" msgpack:"os"`

	// prefixes determine the interpreter home; layered environments have a
	// base/real prefix distinct from their own
	Prefix         string `json:"prefix" msgpack:"prefix"`
	BasePrefix     string `json:"base_prefix" msgpack:"base_prefix"`
	RealPrefix     string `json:"real_prefix" msgpack:"real_prefix"`
	ExecPrefix     string `json:"exec_prefix" msgpack:"exec_prefix"`
	BaseExecPrefix string `json:"base_exec_prefix" msgpack:"base_exec_prefix"`

	// Executable is the path this interpreter was invoked via; it is always
	// overwritten with the invoked path since shim scripts may misreport
	// their own identity.
	Executable string `json:"executable" msgpack:"executable"`

	// OriginalExecutable is the path the interpreter reports for itself.
	OriginalExecutable string `json:"original_executable" msgpack:"original_executable"`

	// SystemExecutable is the base, non-virtualized binary ultimately
	// backing this interpreter, empty when not yet resolved.
	SystemExecutable string `json:"system_executable" msgpack:"system_executable"`

	HasVenv            bool     `json:"has_venv" msgpack:"has_venv"`
	Path               []string `json:"path" msgpack:"path"`
	FileSystemEncoding string   `json:"file_system_encoding" msgpack:"file_system_encoding"`
	StdoutEncoding     string   `json:"stdout_encoding" msgpack:"stdout_encoding"`

	// installation scheme data: path templates with {var} placeholders and
	// the raw configuration variables used to expand them
	SysconfigScheme  string                 `json:"sysconfig_scheme" msgpack:"sysconfig_scheme"`
	SysconfigPaths   map[string]string      `json:"sysconfig_paths" msgpack:"sysconfig_paths"`
	SysconfigVars    map[string]interface{} `json:"sysconfig_vars" msgpack:"sysconfig_vars"`
	DistutilsInstall map[string]string      `json:"distutils_install" msgpack:"distutils_install"`

	SystemStdlib         string `json:"system_stdlib" msgpack:"system_stdlib"`
	SystemStdlibPlatform string `json:"system_stdlib_platform" msgpack:"system_stdlib_platform"`
	MaxSize              int64  `json:"max_size" msgpack:"max_size"`
}

// infoFromJSON deserializes a probe payload, reconstructing the version
// 5-tuple exactly.
func infoFromJSON(payload string) (*PythonInfo, error) {
	info := &PythonInfo{}
	if err := json.Unmarshal([]byte(payload), info); err != nil {
		return nil, fmt.Errorf("malformed interpreter info payload: %w", err)
	}
	return info, nil
}

// toJSON serializes the info with the same schema the probe script emits.
func (info *PythonInfo) toJSON() (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// VersionStr is the dotted three component version, e.g. "3.11.4".
func (info *PythonInfo) VersionStr() string {
	v := info.VersionInfo
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}

// VersionReleaseStr is the dotted release version, e.g. "3.11".
func (info *PythonInfo) VersionReleaseStr() string {
	v := info.VersionInfo
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// PythonName is the conventional versioned binary name, e.g. "python3.11".
func (info *PythonInfo) PythonName() string {
	return "python" + info.VersionReleaseStr()
}

// IsOldVirtualenv reports whether this is a legacy virtualenv (real prefix
// present).
func (info *PythonInfo) IsOldVirtualenv() bool { return info.RealPrefix != "" }

// IsVenv reports whether the interpreter knows a base prefix.
func (info *PythonInfo) IsVenv() bool { return info.BasePrefix != "" }

// SystemPrefix is the installation root of the backing system interpreter.
func (info *PythonInfo) SystemPrefix() string {
	if info.RealPrefix != "" {
		return info.RealPrefix
	}
	if info.BasePrefix != "" {
		return info.BasePrefix
	}
	return info.Prefix
}

// SystemExecPrefix is the exec-prefix of the backing system interpreter.
func (info *PythonInfo) SystemExecPrefix() string {
	if info.RealPrefix != "" {
		return info.RealPrefix
	}
	if info.BaseExecPrefix != "" {
		return info.BaseExecPrefix
	}
	return info.ExecPrefix
}

// Spec renders the fully qualified spec string of this interpreter, e.g.
// "CPython3.11.4.final.0-64".
func (info *PythonInfo) Spec() string {
	return fmt.Sprintf("%s%s-%d", info.Implementation, info.VersionInfo, info.Architecture)
}

func (info *PythonInfo) String() string {
	parts := []string{"spec=" + info.Spec()}
	if info.SystemExecutable != "" && info.SystemExecutable != info.Executable {
		parts = append(parts, "system="+info.SystemExecutable)
	}
	if info.OriginalExecutable != info.SystemExecutable && info.OriginalExecutable != info.Executable {
		parts = append(parts, "original="+info.OriginalExecutable)
	}
	parts = append(parts,
		"exe="+info.Executable,
		"platform="+info.Platform,
		fmt.Sprintf("version=%q", info.Version),
		fmt.Sprintf("encoding_fs_io=%s-%s", info.FileSystemEncoding, info.StdoutEncoding),
	)
	return fmt.Sprintf("PythonInfo(%s)", strings.Join(parts, ", "))
}

var confVarPattern = regexp.MustCompile(`\{\w+\}`)

// SysconfigPath expands the installation path template named key,
// substituting {var} placeholders from the raw configuration variables.
// Entries in overrides win over the interpreter reported variables.
func (info *PythonInfo) SysconfigPath(key string, overrides map[string]string) string {
	pattern := info.SysconfigPaths[key]
	expanded := confVarPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		name := m[1 : len(m)-1]
		if overrides != nil {
			if v, ok := overrides[name]; ok {
				return v
			}
		}
		if v, ok := info.SysconfigVars[name]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	})
	return strings.ReplaceAll(expanded, "/", string(os.PathSeparator))
}

// InstallPath resolves the prefix-relative installation path for a logical
// scheme key such as "scripts" or "purelib". Distutils derived paths win
// when present (that is what pip historically used); otherwise the sysconfig
// template is expanded with all prefix valued variables blanked so the
// result is prefix relative.
func (info *PythonInfo) InstallPath(key string) string {
	if v, ok := info.DistutilsInstall[key]; ok && v != "" {
		return v
	}
	prefixes := map[string]bool{
		info.Prefix:         true,
		info.ExecPrefix:     true,
		info.BasePrefix:     true,
		info.BaseExecPrefix: true,
	}
	overrides := map[string]string{}
	for k, v := range info.SysconfigVars {
		if s, ok := v.(string); ok && prefixes[s] {
			overrides[k] = ""
		}
	}
	return strings.TrimLeft(info.SysconfigPath(key, overrides), string(os.PathSeparator))
}

// Satisfies checks whether this interpreter instance fulfills the spec.
// implMustMatch applies the implementation constraint even though the
// candidate was located by a name that did not encode it.
func (info *PythonInfo) Satisfies(spec *PythonSpec, implMustMatch bool) bool {
	if spec.Path != "" {
		if info.Executable == absPath(spec.Path) {
			return true // the path is our own executable, done
		}
		if spec.IsAbs() {
			return false // absolute paths demand an exact executable match
		}
		// relative path: it must at least name our original executable
		basename := filepath.Base(info.OriginalExecutable)
		specPath := spec.Path
		if runtime.GOOS == "windows" {
			suffix := filepath.Ext(basename)
			basename = strings.TrimSuffix(basename, suffix)
			specPath = strings.TrimSuffix(specPath, suffix)
		}
		if basename != specPath {
			return false
		}
	}

	if implMustMatch && spec.Implementation != "" &&
		!strings.EqualFold(spec.Implementation, info.Implementation) {
		return false
	}
	if spec.Architecture != 0 && spec.Architecture != info.Architecture {
		return false
	}
	ours := []int{info.VersionInfo.Major, info.VersionInfo.Minor, info.VersionInfo.Micro}
	required := []int{spec.Major, spec.Minor, spec.Micro}
	for i := range ours {
		if required[i] >= 0 && ours[i] != required[i] {
			return false
		}
	}
	return true
}

// similarityScore is a bitmask style priority of trait matches against the
// target, implementation carrying the highest weight and release serial the
// lowest.
func similarityScore(info, target *PythonInfo) int {
	matches := []bool{
		info.Implementation == target.Implementation,
		info.VersionInfo.Major == target.VersionInfo.Major,
		info.VersionInfo.Minor == target.VersionInfo.Minor,
		info.Architecture == target.Architecture,
		info.VersionInfo.Micro == target.VersionInfo.Micro,
		info.VersionInfo.ReleaseLevel == target.VersionInfo.ReleaseLevel,
		info.VersionInfo.Serial == target.VersionInfo.Serial,
	}
	score := 0
	for pos, match := range matches {
		if match {
			score += 1 << (len(matches) - 1 - pos)
		}
	}
	return score
}

// selectMostLikely ranks non-exact candidates by similarity to the target and
// returns the best one; ties keep the earliest discovered candidate. Used
// when relaxed matching is permitted, to survive in-place system package
// upgrades that replaced the exact interpreter we were based on.
func selectMostLikely(discovered []*PythonInfo, target *PythonInfo) *PythonInfo {
	sorted := make([]*PythonInfo, len(discovered))
	copy(sorted, discovered)
	sort.SliceStable(sorted, func(i, j int) bool {
		return similarityScore(sorted[i], target) > similarityScore(sorted[j], target)
	})
	return sorted[0]
}

// possibleExeNames enumerates executable names that could denote the same
// installation: basename with digits stripped, implementation name and the
// generic "python", crossed with version truncations, an optional
// architecture suffix and every recognized executable extension.
func (info *PythonInfo) possibleExeNames(env []string) []string {
	var names []string
	seen := map[string]bool{}
	versions := info.versionTruncations()
	extensions := pathExtensions(env)
	for _, base := range info.possibleBases() {
		for _, version := range versions {
			for _, arch := range []string{fmt.Sprintf("-%d", info.Architecture), ""} {
				for _, ext := range extensions {
					candidate := base + version + arch + ext
					if !seen[candidate] {
						seen[candidate] = true
						names = append(names, candidate)
					}
				}
			}
		}
	}
	return names
}

// versionTruncations lists dotted version prefixes from most to least
// specific, ending with the version-less form.
func (info *PythonInfo) versionTruncations() []string {
	v := info.VersionInfo
	parts := []int{v.Major, v.Minor, v.Micro}
	out := make([]string, 0, 4)
	for at := len(parts); at >= 0; at-- {
		out = append(out, joinVersion(parts[:at]))
	}
	return out
}

func (info *PythonInfo) possibleBases() []string {
	var order []string
	seen := map[string]bool{}
	add := func(base string) {
		if base != "" && !seen[base] {
			seen[base] = true
			order = append(order, base)
		}
	}
	basename := filepath.Base(info.Executable)
	basename = strings.TrimSuffix(basename, filepath.Ext(basename))
	add(strings.TrimRight(basename, "0123456789"))
	add(info.Implementation)
	// python is always the final option as it is in practice used as the
	// exe name by multiple implementations
	if seen["python"] {
		for i, base := range order {
			if base == "python" {
				order = append(order[:i], order[i+1:]...)
				break
			}
		}
	}
	order = append(order, "python")

	var out []string
	emitted := map[string]bool{}
	emit := func(base string) {
		if !emitted[base] {
			emitted[base] = true
			out = append(out, base)
		}
	}
	for _, base := range order {
		lower := strings.ToLower(base)
		emit(lower)
		if fsIsCaseSensitive() {
			if base != lower {
				emit(base)
			}
			if upper := strings.ToUpper(base); upper != base {
				emit(upper)
			}
		}
	}
	return out
}

// possibleFolders lists folders under insideFolder that may hold the
// executable: the prefix adjusted by the relative location of our own known
// executables, then the prefix itself. Only existing folders are returned.
func (info *PythonInfo) possibleFolders(insideFolder string) []string {
	var order []string
	seen := map[string]bool{}
	add := func(folder string) {
		if !seen[folder] {
			seen[folder] = true
			order = append(order, folder)
		}
	}

	var executables []string
	exeSeen := map[string]bool{}
	for _, exe := range []string{info.Executable, info.OriginalExecutable} {
		if exe == "" {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil && !exeSeen[resolved] {
			exeSeen[resolved] = true
			executables = append(executables, resolved)
		}
		if !exeSeen[exe] {
			exeSeen[exe] = true
			executables = append(executables, exe)
		}
	}
	for _, exe := range executables {
		base := filepath.Dir(exe)
		// follow the path pattern of the current installation
		if info.Prefix != "" && strings.HasPrefix(base, info.Prefix) {
			add(insideFolder + base[len(info.Prefix):])
		}
	}
	add(insideFolder)

	var out []string
	for _, folder := range order {
		if _, err := os.Stat(folder); err == nil {
			out = append(out, folder)
		}
	}
	return out
}
