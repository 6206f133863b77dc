package provision

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepStale removes leftover download artifacts under the cache root that
// are older than maxAge: partial files from interrupted transfers and their
// meta siblings, plus abandoned staging directories. Runs once at startup.
func (p *Provisioner) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	_ = filepath.WalkDir(p.cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		switch {
		case d.IsDir() && strings.HasSuffix(path, ".staging"):
			if os.RemoveAll(path) == nil {
				removed++
				p.log.Info("removed stale staging dir", slog.String("path", path))
			}
			return filepath.SkipDir
		case !d.IsDir() && (strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, ".tmp.meta")):
			if os.Remove(path) == nil {
				removed++
				p.log.Info("removed stale partial download", slog.String("path", path))
			}
		}
		return nil
	})

	return removed
}
