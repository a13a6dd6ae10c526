// Package pydiscovery locates a usable Python interpreter on the host given
// an abstract specification and extracts detailed metadata about it, for use
// by virtual-environment tooling that needs to find and introspect a target
// interpreter before building an isolated environment around it.
//
// # Specifications
//
// A spec is a free-form string: an implementation name, partial version and
// bit width such as "python3.11", "cpython3.9-64" or "pypy", or a filesystem
// path. Parsing never fails; strings outside the symbolic grammar degrade to
// path specs:
//
//	spec := pydiscovery.NewSpecFromString("python3.11")
//
// # Discovery
//
// Discovery runs inside a Session, which owns logging, caches and the
// subprocess prober:
//
//	session := pydiscovery.NewSession()
//	info, err := pydiscovery.GetInterpreter(session, "python3.11", nil, nil)
//	if err != nil {
//	    // fatal condition, e.g. a missing absolute path
//	}
//	if info == nil {
//	    // no interpreter satisfied the spec - a normal outcome
//	}
//
// Candidates are proposed in priority order: caller supplied try-first
// paths, the spec's own path, the host interpreter, PEP-514 registry
// registrations on Windows, and finally a scan of PATH with generated name
// permutations. The first candidate satisfying the spec wins.
//
// # Probing
//
// Each candidate is probed out of process: the target interpreter runs an
// embedded standard-library-only introspection script and self-reports a
// JSON record (version 5-tuple, prefixes, installation paths, configuration
// variables) framed by reversed random cookies so it survives arbitrary
// startup noise. Interpreters running inside virtual or layered environments
// are resolved to their backing system installation by walking prefix links,
// with caching and cycle detection.
//
// # Persistent cache
//
// Probes are expensive. A Session configured with WithCacheDir persists
// probed records (msgpack encoded, keyed by executable path, mtime and size)
// so unchanged interpreters are not probed again across runs. Without a
// cache directory nothing is written besides transient probe files.
package pydiscovery
