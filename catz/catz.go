// Package catz reads and appends gzipped NDJSON files.
package catz

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rotblauer/catfuse/params"
)

type GZFileWriterConfig struct {
	CompressionLevel int
	Flag             int
	FilePerm         os.FileMode
	DirPerm          os.FileMode
}

func DefaultGZFileWriterConfig() *GZFileWriterConfig {
	return &GZFileWriterConfig{
		CompressionLevel: params.DefaultGZipCompressionLevel,
		Flag:             os.O_WRONLY | os.O_APPEND | os.O_CREATE,
		FilePerm:         0660,
		DirPerm:          0770,
	}
}

// GZFileWriter appends a gzip member to a file.
// Concatenated members read back as one stream.
type GZFileWriter struct {
	f      *os.File
	gzw    *gzip.Writer
	locked bool
	closed bool
}

func NewGZFileWriter(path string, config *GZFileWriterConfig) (*GZFileWriter, error) {
	if config == nil {
		config = DefaultGZFileWriterConfig()
	}
	if err := os.MkdirAll(filepath.Dir(path), config.DirPerm); err != nil {
		return nil, err
	}
	fi, err := os.OpenFile(path, config.Flag, config.FilePerm)
	if err != nil {
		return nil, err
	}
	gzw, err := gzip.NewWriterLevel(fi, config.CompressionLevel)
	if err != nil {
		fi.Close()
		return nil, err
	}
	return &GZFileWriter{f: fi, gzw: gzw}, nil
}

// Write takes an exclusive lock on the file on first use.
// The lock is released when the file is closed.
func (g *GZFileWriter) Write(p []byte) (int, error) {
	if !g.locked && !g.closed {
		_ = syscall.Flock(int(g.f.Fd()), syscall.LOCK_EX)
		g.locked = true
	}
	return g.gzw.Write(p)
}

func (g *GZFileWriter) Path() string {
	return g.f.Name()
}

func (g *GZFileWriter) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if err := g.gzw.Close(); err != nil {
		g.f.Close()
		return err
	}
	if err := g.f.Sync(); err != nil {
		g.f.Close()
		return err
	}
	// Closing the descriptor releases the flock.
	return g.f.Close()
}

type GZFileReader struct {
	f   *os.File
	gzr *gzip.Reader
}

func NewGZFileReader(path string) (*GZFileReader, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gzr, err := gzip.NewReader(fi)
	if err != nil {
		fi.Close()
		return nil, err
	}
	return &GZFileReader{f: fi, gzr: gzr}, nil
}

func (g *GZFileReader) Read(p []byte) (int, error) {
	return g.gzr.Read(p)
}

func (g *GZFileReader) Path() string {
	return g.f.Name()
}

func (g *GZFileReader) Close() error {
	if err := g.gzr.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

func (g *GZFileReader) LineCount() (int, error) {
	count := 0
	scanner := bufio.NewScanner(g.gzr)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// MaybeGZReader wraps r with a gzip reader if its stream starts with the gzip magic bytes.
func MaybeGZReader(r io.ReadCloser) (io.ReadCloser, error) {
	buf := bufio.NewReader(r)
	magic, err := buf.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		// Short or empty input is passed through as plain text.
		return readCloser{Reader: buf, close: r.Close}, nil
	}
	gzr, err := gzip.NewReader(buf)
	if err != nil {
		return nil, err
	}
	return readCloser{Reader: gzr, close: func() error {
		gzr.Close()
		return r.Close()
	}}, nil
}

// OpenMaybeGZ opens path for reading, transparently decompressing gzip content.
func OpenMaybeGZ(path string) (io.ReadCloser, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := MaybeGZReader(fi)
	if err != nil {
		fi.Close()
		return nil, err
	}
	return rc, nil
}
