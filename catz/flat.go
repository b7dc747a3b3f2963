package catz

import (
	"os"
	"path/filepath"

	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/params"
)

// Flat is a directory of flat files, usually one device's.
type Flat struct {
	path string
}

func NewFlatWithRoot(root string) *Flat {
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		root, _ = filepath.Abs(root)
	}
	return &Flat{path: root}
}

// ForDevice returns the device's subdirectory of f.
func (f *Flat) ForDevice(id conceptual.DeviceID) *Flat {
	return &Flat{path: filepath.Join(f.path, params.DevicesDir, id.String())}
}

func (f *Flat) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *Flat) MkdirAll() error {
	return os.MkdirAll(f.path, 0770)
}

func (f *Flat) Path() string {
	return f.path
}

func (f *Flat) NewGZFileWriter(name string, config *GZFileWriterConfig) (*GZFileWriter, error) {
	return NewGZFileWriter(filepath.Join(f.path, name), config)
}

func (f *Flat) NamedGZReader(name string) (*GZFileReader, error) {
	return NewGZFileReader(filepath.Join(f.path, name))
}

// TracksGZWriter appends to the directory's track log.
func (f *Flat) TracksGZWriter() (*GZFileWriter, error) {
	return f.NewGZFileWriter(params.TracksGZFileName, nil)
}
