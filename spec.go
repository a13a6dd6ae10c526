package pydiscovery

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// specPattern is the grammar for symbolic interpreter specs such as
// "python3.10", "cpython3.9-64" or "pypy". Strings that do not conform are
// treated as filesystem paths instead.
var specPattern = regexp.MustCompile(`^([a-zA-Z]+)?([0-9.]+)?(?:-(32|64))?$`)

// PythonSpec is an abstract requirement definition for an interpreter:
// an optional implementation name, partial version and architecture, or an
// explicit filesystem path. Version components use -1 when unspecified and
// Architecture uses 0, following the sentinel convention for optional
// numeric fields.
type PythonSpec struct {
	// StrSpec is the raw input string the spec was parsed from.
	StrSpec string

	// Implementation is the requested implementation name (e.g. "cpython"),
	// empty when any implementation is acceptable.
	Implementation string

	// Major, Minor and Micro are the requested version components, each -1
	// when not constrained. Partial specs are valid.
	Major, Minor, Micro int

	// Architecture is the requested bit width (32 or 64), 0 when unset.
	Architecture int

	// Path is set when the input looks like a filesystem path rather than a
	// symbolic spec. May be relative and may not exist.
	Path string
}

// NewSpecFromString parses a free-form spec string. Parsing never fails:
// strings that do not match the symbolic grammar degrade to a path spec.
func NewSpecFromString(spec string) *PythonSpec {
	out := &PythonSpec{StrSpec: spec, Major: -1, Minor: -1, Micro: -1}
	if filepath.IsAbs(spec) {
		out.Path = spec
		return out
	}

	match := specPattern.FindStringSubmatch(spec)
	if match == nil {
		out.Path = spec
		return out
	}
	if version := match[2]; version != "" {
		var parts []int
		for _, chunk := range strings.Split(version, ".") {
			if chunk == "" {
				continue
			}
			value, err := strconv.Atoi(chunk)
			if err != nil {
				out.Path = spec
				return out
			}
			parts = append(parts, value)
		}
		switch len(parts) {
		case 0: // version was only dots, no constraint
		case 1:
			// historical shorthand: "278" means major=2 minor=78
			digits := strconv.Itoa(parts[0])
			out.Major, _ = strconv.Atoi(digits[:1])
			if parts[0] > 9 {
				out.Minor, _ = strconv.Atoi(digits[1:])
			}
		case 2:
			out.Major, out.Minor = parts[0], parts[1]
		case 3:
			out.Major, out.Minor, out.Micro = parts[0], parts[1], parts[2]
		default:
			out.Path = spec
			return out
		}
	}
	impl := match[1]
	if impl == "py" || impl == "python" {
		impl = "" // generic aliases carry no implementation constraint
	}
	out.Implementation = impl
	if match[3] != "" {
		out.Architecture, _ = strconv.Atoi(match[3])
	}
	return out
}

// IsAbs reports whether the spec pins an absolute executable path, in which
// case candidate search short-circuits to that single path.
func (s *PythonSpec) IsAbs() bool {
	return s.Path != "" && filepath.IsAbs(s.Path)
}

// versionParts returns the declared leading version components, stopping at
// the first unspecified one.
func (s *PythonSpec) versionParts() []int {
	var parts []int
	for _, v := range []int{s.Major, s.Minor, s.Micro} {
		if v < 0 {
			break
		}
		parts = append(parts, v)
	}
	return parts
}

// NameCandidate is one executable basename to try on PATH together with
// whether the implementation must match at verification time.
type NameCandidate struct {
	Name string

	// ImplMustMatch is false for names derived from the declared
	// implementation (the name itself already encodes the intent) and true
	// for the generic "python" alias, which must still resolve to the
	// requested implementation.
	ImplMustMatch bool
}

// GenerateNames enumerates plausible executable basenames for this spec,
// most specific first: the declared implementation (with lower/upper case
// variants on case-sensitive filesystems), then the generic "python" alias,
// each crossed with every truncation of the declared version.
func (s *PythonSpec) GenerateNames() []NameCandidate {
	var order []string
	match := map[string]bool{}
	add := func(impl string, mustMatch bool) {
		if _, seen := match[impl]; !seen {
			order = append(order, impl)
		}
		match[impl] = mustMatch
	}
	if s.Implementation != "" {
		add(s.Implementation, false)
		if fsIsCaseSensitive() {
			add(strings.ToLower(s.Implementation), false)
			add(strings.ToUpper(s.Implementation), false)
		}
	}
	add("python", true)

	parts := s.versionParts()
	var out []NameCandidate
	for _, impl := range order {
		for at := len(parts); at >= 0; at-- {
			out = append(out, NameCandidate{
				Name:          impl + joinVersion(parts[:at]),
				ImplMustMatch: match[impl],
			})
		}
	}
	return out
}

func joinVersion(parts []int) string {
	text := make([]string, len(parts))
	for i, v := range parts {
		text[i] = strconv.Itoa(v)
	}
	return strings.Join(text, ".")
}

// Satisfies reports whether this spec is compatible with the requirement
// spec: declared fields must agree, undeclared ones never conflict. Used to
// pre-filter registry candidates before the expensive probe.
func (s *PythonSpec) Satisfies(req *PythonSpec) bool {
	if req.IsAbs() && s.IsAbs() && s.Path != req.Path {
		return false
	}
	if req.Implementation != "" && s.Implementation != "" &&
		!strings.EqualFold(req.Implementation, s.Implementation) {
		return false
	}
	if req.Architecture != 0 && req.Architecture != s.Architecture {
		return false
	}
	ours := []int{s.Major, s.Minor, s.Micro}
	theirs := []int{req.Major, req.Minor, req.Micro}
	for i := range ours {
		if theirs[i] >= 0 && ours[i] >= 0 && ours[i] != theirs[i] {
			return false
		}
	}
	return true
}

// String renders the declared fields only.
func (s *PythonSpec) String() string {
	var fields []string
	if s.Implementation != "" {
		fields = append(fields, "implementation="+s.Implementation)
	}
	for _, part := range []struct {
		name  string
		value int
	}{{"major", s.Major}, {"minor", s.Minor}, {"micro", s.Micro}} {
		if part.value >= 0 {
			fields = append(fields, fmt.Sprintf("%s=%d", part.name, part.value))
		}
	}
	if s.Architecture != 0 {
		fields = append(fields, fmt.Sprintf("architecture=%d", s.Architecture))
	}
	if s.Path != "" {
		fields = append(fields, "path="+s.Path)
	}
	return fmt.Sprintf("PythonSpec(%s)", strings.Join(fields, ", "))
}
