package deps

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Well-known manifest keys of the speech-synthesis toolchain.
const (
	KeyPython         = "python"
	KeyPyDependencies = "pyDependencies"
	KeyModel          = "model"
)

// Descriptor is the declarative record of one required external component.
// Descriptors are created when a manifest is decoded and never mutated.
type Descriptor struct {
	Key          string `json:"-"`
	Name         string `json:"name"`
	VersionMajor int    `json:"versionMajor"`
	VersionMinor int    `json:"versionMinor"`
	URL          string `json:"url,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
}

// Required returns the minimum accepted version.
func (d Descriptor) Required() Version {
	return Version{Major: d.VersionMajor, Minor: d.VersionMinor}
}

// HasChecksum reports whether the descriptor declares an artifact digest.
func (d Descriptor) HasChecksum() bool {
	return strings.TrimSpace(d.Checksum) != ""
}

// Manifest maps dependency key to descriptor.
type Manifest map[string]Descriptor

// Get returns the descriptor for key.
func (m Manifest) Get(key string) (Descriptor, bool) {
	d, ok := m[key]
	return d, ok
}

// Keys returns manifest keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeManifest parses the JSON manifest document and stamps each descriptor with its key.
func DecodeManifest(data []byte) (Manifest, error) {
	var raw map[string]Descriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode manifest: no dependencies listed")
	}
	out := make(Manifest, len(raw))
	for key, d := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("decode manifest: empty dependency key")
		}
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("decode manifest: dependency %q has no name", key)
		}
		if d.VersionMajor < 0 || d.VersionMinor < 0 {
			return nil, fmt.Errorf("decode manifest: dependency %q has a negative version", key)
		}
		d.Key = key
		d.Checksum = strings.ToLower(strings.TrimSpace(d.Checksum))
		out[key] = d
	}
	return out, nil
}

func encodeManifest(m Manifest) ([]byte, error) {
	return json.MarshalIndent(map[string]Descriptor(m), "", "  ")
}
