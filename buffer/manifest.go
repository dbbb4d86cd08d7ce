package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robert-malhotra/go-imaris/volume"
)

const (
	manifestName    = "manifest.json"
	manifestVersion = 1
	chunkDir        = "c"
)

// Manifest is the on-disk description of a buffer. It is written when the
// buffer is created and rewritten when its metadata or retention changes.
type Manifest struct {
	Version  int              `json:"version"`
	ID       string           `json:"id"`
	Shape    [volume.Rank]int `json:"shape"`
	DType    volume.DType     `json:"dtype"`
	Chunks   [volume.Rank]int `json:"chunks"`
	Codec    string           `json:"codec"`
	PID      int              `json:"pid"`
	Host     string           `json:"host"`
	Created  time.Time        `json:"created"`
	Keep     bool             `json:"keep,omitempty"`
	Metadata *volume.Metadata `json:"metadata,omitempty"`
}

func (m *Manifest) validate() error {
	if m.Version != manifestVersion {
		return fmt.Errorf("manifest version %d", m.Version)
	}
	for d := range m.Shape {
		if m.Shape[d] < 1 || m.Chunks[d] < 1 {
			return fmt.Errorf("manifest shape %v chunks %v", m.Shape, m.Chunks)
		}
	}
	if m.DType.Size() == 0 {
		return fmt.Errorf("manifest dtype %s", m.DType)
	}
	_, err := CodecByName(m.Codec)
	return err
}

func readManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	m := new(Manifest)
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", manifestName, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// writeManifest replaces the manifest atomically.
func writeManifest(dir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, manifestName), b)
}

func writeFileAtomic(name string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), name); err != nil {
		os.Remove(f.Name())
		return err
	}
	return nil
}
