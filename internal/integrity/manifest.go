package integrity

import (
	"fmt"
	"os"

	"github.com/italolelis/censo_downloader/internal/microdata"
	"gopkg.in/yaml.v3"
)

const manifestVersion = 1

// Manifest is the on-disk form of a digest table:
//
//	version: 1
//	digests:
//	  cursos:
//	    2022: "0123456789abcdef0123456789abcdef"
type Manifest struct {
	Version int                       `yaml:"version"`
	Digests map[string]map[int]string `yaml:"digests"`
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Digests, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode digest manifest: %w", err)
	}

	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported digest manifest version %d, want %d", m.Version, manifestVersion)
	}

	for table, years := range m.Digests {
		if _, err := microdata.ParseTable(table); err != nil {
			return nil, err
		}

		for year, digest := range years {
			if !isHexDigest(digest) {
				return nil, fmt.Errorf("invalid digest for %s %d: %q", table, year, digest)
			}
		}
	}

	return NewDigests(m.Digests), nil
}

// LoadManifest reads a manifest file and overlays it on base.
func LoadManifest(path string, base *Digests) (*Digests, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read digest manifest: %w", err)
	}

	d, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return base.Merge(d), nil
}

func isHexDigest(s string) bool {
	if len(s) != 32 {
		return false
	}

	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}

	return true
}
