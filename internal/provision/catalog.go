package provision

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hushtype/hushtype/pkg/events"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ModelFile is one artifact of a model.
type ModelFile struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	SizeBytes int64  `yaml:"size_bytes"`
}

// Model describes a downloadable model for one backend family.
type Model struct {
	ID          string      `yaml:"id"`
	DisplayName string      `yaml:"display_name"`
	Family      string      `yaml:"family"`
	Default     bool        `yaml:"default"`
	Files       []ModelFile `yaml:"files"`
}

// TotalBytes is the summed size of all artifacts.
func (m *Model) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.SizeBytes
	}
	return total
}

// Catalog is the set of models this build knows how to provision.
type Catalog struct {
	Models []Model `yaml:"models"`
}

// LoadCatalog parses the catalog compiled into the binary.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalog)
}

// LoadCatalogFile parses a catalog override from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return parseCatalog(raw)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i := range c.Models {
		m := &c.Models[i]
		if m.ID == "" || m.Family == "" || len(m.Files) == 0 {
			return nil, fmt.Errorf("catalog entry %d incomplete", i)
		}
	}
	return &c, nil
}

// Model finds a model by family and id.
func (c *Catalog) Model(family, id string) (*Model, bool) {
	for i := range c.Models {
		if c.Models[i].Family == family && c.Models[i].ID == id {
			return &c.Models[i], true
		}
	}
	return nil, false
}

// DefaultModel returns the family's default entry, or its first entry.
func (c *Catalog) DefaultModel(family string) (*Model, bool) {
	var first *Model
	for i := range c.Models {
		if c.Models[i].Family != family {
			continue
		}
		if c.Models[i].Default {
			return &c.Models[i], true
		}
		if first == nil {
			first = &c.Models[i]
		}
	}
	return first, first != nil
}

// ForFamily lists all models of one backend family.
func (c *Catalog) ForFamily(family string) []Model {
	var out []Model
	for _, m := range c.Models {
		if m.Family == family {
			out = append(out, m)
		}
	}
	return out
}

// ModelDir is where a model's artifacts live on disk.
func (p *Provisioner) ModelDir(family, id string) string {
	return filepath.Join(p.cacheRoot, "models", family, id)
}

// IsInstalled reports whether every artifact of the model is present and
// non-empty on disk.
func (p *Provisioner) IsInstalled(m *Model) bool {
	dir := p.ModelDir(m.Family, m.ID)
	for _, f := range m.Files {
		fi, err := os.Stat(filepath.Join(dir, f.Name))
		if err != nil || fi.Size() == 0 {
			return false
		}
	}
	return true
}

// Installed lists the catalog models whose artifacts are all on disk.
func (p *Provisioner) Installed(c *Catalog) []Model {
	var out []Model
	for i := range c.Models {
		if p.IsInstalled(&c.Models[i]) {
			out = append(out, c.Models[i])
		}
	}
	return out
}

// diskSpaceMargin leaves headroom beyond the artifact sizes so the
// filesystem is not filled to the brim.
const diskSpaceMargin = 256 * 1024 * 1024

// EnsureModel makes all of the model's artifacts present in the cache,
// downloading whatever is missing. Disk space is checked before any network
// request. Progress covers the aggregate transfer across files.
func (p *Provisioner) EnsureModel(ctx context.Context, m *Model, progress ProgressFunc) error {
	dir := p.ModelDir(m.Family, m.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	var missing []ModelFile
	var missingBytes int64
	for _, f := range m.Files {
		if fi, err := os.Stat(filepath.Join(dir, f.Name)); err == nil && fi.Size() > 0 {
			continue
		}
		missing = append(missing, f)
		missingBytes += f.SizeBytes
	}
	if len(missing) == 0 {
		return nil
	}

	if err := CheckDiskSpace(dir, missingBytes+diskSpaceMargin); err != nil {
		return err
	}

	p.emit(events.DownloadStarted, &events.DownloadProgressData{
		ModelID: m.ID, TotalBytes: missingBytes,
	})

	var doneBytes int64
	for _, f := range missing {
		f := f
		p.log.InfoContext(ctx, "downloading model artifact",
			slog.String("model", m.ID), slog.String("file", f.Name), slog.Int64("size", f.SizeBytes))

		err := p.Download(ctx, f.URL, filepath.Join(dir, f.Name), DownloadOptions{
			MinBytes: minPlausibleBytes(f.SizeBytes),
			Progress: func(got, total int64) {
				if progress != nil {
					progress(doneBytes+got, missingBytes)
				}
				p.emit(events.DownloadProgress, &events.DownloadProgressData{
					ModelID: m.ID, File: f.Name, BytesDownloaded: doneBytes + got, TotalBytes: missingBytes,
				})
			},
		})
		if err != nil {
			p.emit(events.InstallFailed, &events.InstallFailedData{ModelID: m.ID, Error: err.Error()})
			return fmt.Errorf("ensure %s: %w", m.ID, err)
		}
		doneBytes += f.SizeBytes
	}

	p.emit(events.DownloadCompleted, &events.DownloadProgressData{
		ModelID: m.ID, BytesDownloaded: missingBytes, TotalBytes: missingBytes,
	})
	return nil
}

// minPlausibleBytes is the corruption floor for an artifact: well under the
// expected size but enough to reject error pages saved as model weights.
func minPlausibleBytes(expected int64) int64 {
	if expected <= 0 {
		return 1024
	}
	floor := expected / 2
	if floor > 1024 {
		return floor
	}
	return 1024
}

func (p *Provisioner) emit(t events.EventType, data interface{}) {
	if p.events != nil {
		_ = p.events.Emit(t, "", data)
	}
}
