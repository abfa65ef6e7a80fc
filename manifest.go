package bar

import (
	"errors"
	"fmt"
	"io"

	yaml "gopkg.in/yaml.v2"
)

// ManifestName is the sidecar file BuildDir reads from the top of the source
// directory and UnpackTo writes next to the unpacked entries.
const ManifestName = ".barmeta.yaml"

// Manifest carries the metadata a plain directory cannot hold: notes, used
// flags and compression methods. Entry keys are archive paths.
//
//	name: music
//	compression: high-gzip
//	entries:
//	  men at work/land down under.mp3:
//	    note: "*classic*"
//	    used: true
//	    compression: none
type Manifest struct {
	Name        string                   `yaml:"name,omitempty"`
	Note        string                   `yaml:"note,omitempty"`
	Used        bool                     `yaml:"used,omitempty"`
	Compression string                   `yaml:"compression,omitempty"`
	Entries     map[string]ManifestEntry `yaml:"entries,omitempty"`
}

// ManifestEntry describes one file or directory.
type ManifestEntry struct {
	Note        string `yaml:"note,omitempty"`
	Used        bool   `yaml:"used,omitempty"`
	Compression string `yaml:"compression,omitempty"`
}

// LoadManifest decodes a manifest. Unknown fields are rejected, and every
// entry path is normalized.
func LoadManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)

	m := &Manifest{}
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("bar: load manifest: %w", err)
	}
	if len(m.Entries) > 0 {
		entries := make(map[string]ManifestEntry, len(m.Entries))
		for p, e := range m.Entries {
			entries[NormalizePath(p)] = e
		}
		m.Entries = entries
	}
	if _, err := m.method(); err != nil {
		return nil, err
	}
	for p, e := range m.Entries {
		if _, err := e.method(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Encode writes m as YAML.
func (m *Manifest) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("bar: encode manifest: %w", err)
	}
	return enc.Close()
}

// Entry returns the manifest entry for the archive path p.
func (m *Manifest) Entry(p string) (ManifestEntry, bool) {
	e, ok := m.Entries[NormalizePath(p)]
	return e, ok
}

// method returns the archive default compression, if set.
func (m *Manifest) method() (*Method, error) {
	return parseOptionalMethod(m.Compression, "")
}

// method returns the entry's compression override, if set.
func (e ManifestEntry) method(path string) (*Method, error) {
	return parseOptionalMethod(e.Compression, path)
}

func parseOptionalMethod(s, path string) (*Method, error) {
	if s == "" {
		return nil, nil
	}
	m, err := ParseMethod(s)
	if err != nil {
		return nil, withPath(err, path)
	}
	return &m, nil
}

// set records an entry, dropping it when it carries nothing.
func (m *Manifest) set(p string, e ManifestEntry) {
	if e == (ManifestEntry{}) {
		return
	}
	if m.Entries == nil {
		m.Entries = make(map[string]ManifestEntry)
	}
	m.Entries[p] = e
}
