package pydiscovery

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// cacheEntry is the on-disk form of a probed record, bound to the probed
// file's identity so a replaced or upgraded interpreter invalidates it.
type cacheEntry struct {
	Path     string      `msgpack:"path"`
	ModTime  int64       `msgpack:"mod_time"`
	Size     int64       `msgpack:"size"`
	Info     *PythonInfo `msgpack:"info"`
	Revision int         `msgpack:"revision"`
}

// cacheRevision bumps whenever the record schema changes, discarding stale
// entries written by older builds.
const cacheRevision = 1

// cachedProbe runs the subprocess probe, short-circuiting to the persistent
// cache when one is configured and the executable is unchanged since the
// entry was written. Cache trouble is never fatal: a bad entry means one
// extra probe.
func (s *Session) cachedProbe(exe string, env []string) (*PythonInfo, error) {
	if s.cacheDir == "" {
		return s.rawProbe(exe, env)
	}
	st, err := os.Stat(exe)
	if err != nil {
		return s.rawProbe(exe, env)
	}
	file := s.cacheFile(exe)
	if info := loadCacheEntry(file, exe, st.ModTime().UnixNano(), st.Size()); info != nil {
		s.logger.Debug("loaded interpreter info from cache",
			zap.String("exe", exe), zap.String("file", file))
		info.Executable = exe
		return info, nil
	}
	info, err := s.rawProbe(exe, env)
	if err != nil {
		return nil, err
	}
	if werr := writeCacheEntry(file, &cacheEntry{
		Path:     exe,
		ModTime:  st.ModTime().UnixNano(),
		Size:     st.Size(),
		Info:     info,
		Revision: cacheRevision,
	}); werr != nil {
		s.logger.Debug("could not persist interpreter info",
			zap.String("exe", exe), zap.Error(werr))
	}
	return info, nil
}

func (s *Session) cacheFile(exe string) string {
	digest := sha256.Sum256([]byte(absPath(exe)))
	return filepath.Join(s.cacheDir, hex.EncodeToString(digest[:16])+".msgpack")
}

func loadCacheEntry(file, exe string, modTime, size int64) *PythonInfo {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	var entry cacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil
	}
	if entry.Revision != cacheRevision || entry.Path != exe ||
		entry.ModTime != modTime || entry.Size != size || entry.Info == nil {
		return nil
	}
	return entry.Info
}

func writeCacheEntry(file string, entry *cacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return err
	}
	// write-then-rename so concurrent readers never see a torn entry
	tmp, err := os.CreateTemp(filepath.Dir(file), ".entry-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, file); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
