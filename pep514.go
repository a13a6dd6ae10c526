package pydiscovery

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// PEP-514 (https://peps.python.org/pep-0514/) registers interpreters under a
// two-level Company\Tag hierarchy below Software\Python in the Windows
// registry. The scan logic is written against the registryKey interface so
// it is portable and testable; only the backend that opens real registry
// hives is Windows specific.

// registryKey is the minimal registry tree surface the scanner needs.
type registryKey interface {
	// SubKeyNames enumerates child key names in registry order.
	SubKeyNames() ([]string, error)

	// OpenSubKey opens a child key by name.
	OpenSubKey(name string) (registryKey, error)

	// StringValue reads a named string value; name "" is the default value.
	StringValue(name string) (string, bool)

	Close() error
}

// registryRoot is one (hive, view) combination to scan.
type registryRoot struct {
	// HiveName qualifies log messages, e.g. "HKEY_LOCAL_MACHINE".
	HiveName string

	// DefaultArch is the bit width assumed when a registration does not
	// declare SysArchitecture (the view it was found under implies it).
	DefaultArch int

	// Open opens Software\Python under this root, or an error when absent.
	Open func() (registryKey, error)
}

// RegistryEntry is one interpreter registration: vendor, version triple,
// bit width, executable and optional launch arguments.
type RegistryEntry struct {
	Company      string
	Major        int
	Minor        int // -1 when the registration omits it
	Micro        int // -1 when the registration omits it
	Architecture int
	Executable   string
	Arguments    string
}

// DiscoverPythons enumerates PEP-514 registered interpreters across the
// per-user default view, the per-machine 64-bit view and the per-machine
// 32-bit view, in that order. Entries are yielded in registry enumeration
// order, neither deduplicated nor sorted. On platforms without a registry
// the result is empty.
func DiscoverPythons(logger *zap.Logger) []RegistryEntry {
	if logger == nil {
		logger = zap.NewNop()
	}
	var entries []RegistryEntry
	for _, root := range platformRegistryRoots() {
		entries = append(entries, scanRoot(root, logger)...)
	}
	return entries
}

func scanRoot(root registryRoot, logger *zap.Logger) []RegistryEntry {
	key, err := root.Open()
	if err != nil {
		return nil
	}
	defer key.Close()
	companies, err := key.SubKeyNames()
	if err != nil {
		return nil
	}
	var entries []RegistryEntry
	for _, company := range companies {
		if company == "PyLauncher" { // reserved by the launcher itself
			continue
		}
		entries = append(entries, scanCompany(root, key, company, logger)...)
	}
	return entries
}

func scanCompany(root registryRoot, parent registryKey, company string, logger *zap.Logger) []RegistryEntry {
	companyKey, err := parent.OpenSubKey(company)
	if err != nil {
		return nil
	}
	defer companyKey.Close()
	tags, err := companyKey.SubKeyNames()
	if err != nil {
		return nil
	}
	var entries []RegistryEntry
	for _, tag := range tags {
		if entry := scanTag(root, companyKey, company, tag, logger); entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries
}

// scanTag resolves one registration. Any malformed field is reported as a
// standards violation at its registry path and the whole entry is skipped;
// the scan itself continues.
func scanTag(root registryRoot, companyKey registryKey, company, tag string, logger *zap.Logger) *RegistryEntry {
	tagKey, err := companyKey.OpenSubKey(tag)
	if err != nil {
		return nil
	}
	defer tagKey.Close()
	keyPath := fmt.Sprintf("%s/%s/%s", root.HiveName, company, tag)

	major, minor, micro, ok := loadVersion(tagKey, tag, keyPath, logger)
	if !ok {
		return nil
	}
	arch, ok := loadArch(tagKey, root.DefaultArch, keyPath, logger)
	if !ok {
		return nil
	}
	exe, args, ok := loadExe(tagKey, keyPath, logger)
	if !ok {
		return nil
	}
	return &RegistryEntry{
		Company:      company,
		Major:        major,
		Minor:        minor,
		Micro:        micro,
		Architecture: arch,
		Executable:   exe,
		Arguments:    args,
	}
}

// loadVersion prefers an explicit SysVersion value and falls back to parsing
// the tag itself as major[.minor[.micro]].
func loadVersion(tagKey registryKey, tag, keyPath string, logger *zap.Logger) (major, minor, micro int, ok bool) {
	if sysVersion, found := tagKey.StringValue("SysVersion"); found {
		ma, mi, mc, err := parseWinVersion(sysVersion)
		if err == nil {
			return ma, mi, mc, true
		}
		violation(logger, keyPath+"/SysVersion", err)
	}
	major, minor, micro, err := parseWinVersion(tag)
	if err != nil {
		violation(logger, keyPath, err)
		return 0, 0, 0, false
	}
	return major, minor, micro, true
}

// loadArch uses an explicit SysArchitecture when present, else the view
// specific default. A present but malformed value skips the entry.
func loadArch(tagKey registryKey, defaultArch int, keyPath string, logger *zap.Logger) (int, bool) {
	archStr, found := tagKey.StringValue("SysArchitecture")
	if !found {
		return defaultArch, true
	}
	arch, err := parseArch(archStr)
	if err != nil {
		violation(logger, keyPath+"/SysArchitecture", err)
		return 0, false
	}
	return arch, true
}

// loadExe resolves the executable from InstallPath\ExecutablePath, defaulting
// to "<install path>\python.exe", and requires it to exist on disk.
func loadExe(tagKey registryKey, keyPath string, logger *zap.Logger) (exe, args string, ok bool) {
	ipKey, err := tagKey.OpenSubKey("InstallPath")
	if err != nil {
		violation(logger, keyPath+"/InstallPath", fmt.Errorf("missing"))
		return "", "", false
	}
	defer ipKey.Close()
	exe, found := ipKey.StringValue("ExecutablePath")
	if !found {
		ip, ipFound := ipKey.StringValue("")
		if !ipFound {
			violation(logger, keyPath, fmt.Errorf("no ExecutablePath or default for it"))
			return "", "", false
		}
		exe = strings.TrimRight(ip, `\`) + `\python.exe`
	}
	if _, err := os.Stat(exe); err != nil {
		violation(logger, keyPath, fmt.Errorf("could not load exe with value %s", exe))
		return "", "", false
	}
	args, _ = ipKey.StringValue("ExecutableArguments")
	return exe, args, true
}

var (
	winArchPattern    = regexp.MustCompile(`^(\d+)bit$`)
	winVersionPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)
)

func parseArch(archStr string) (int, error) {
	match := winArchPattern.FindStringSubmatch(archStr)
	if match == nil {
		return 0, fmt.Errorf("invalid format %s", archStr)
	}
	return strconv.Atoi(match[1])
}

func parseWinVersion(versionStr string) (major, minor, micro int, err error) {
	match := winVersionPattern.FindStringSubmatch(versionStr)
	if match == nil {
		return 0, 0, 0, fmt.Errorf("invalid format %s", versionStr)
	}
	minor, micro = -1, -1
	major, _ = strconv.Atoi(match[1])
	if match[2] != "" {
		minor, _ = strconv.Atoi(match[2])
	}
	if match[3] != "" {
		micro, _ = strconv.Atoi(match[3])
	}
	return major, minor, micro, nil
}

func violation(logger *zap.Logger, path string, err error) {
	logger.Warn("PEP-514 violation in Windows Registry",
		zap.String("at", path), zap.Error(err))
}
