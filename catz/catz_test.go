package catz

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rotblauer/catfuse/conceptual"
)

func TestGZFileWriter_ConcurrentAppend(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tracks.ndjson.gz")

	// Two writers append concurrently; each holds the file lock until closed.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := NewGZFileWriter(target, nil)
			if err != nil {
				t.Error(err)
				return
			}
			enc := json.NewEncoder(w)
			for j := 0; j < 100; j++ {
				if err := enc.Encode(map[string]int{"writer": i, "n": j}); err != nil {
					t.Error(err)
				}
			}
			if err := w.Close(); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	r, err := NewGZFileReader(target)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	n, err := r.LineCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 200 {
		t.Errorf("want 200 lines, got %d", n)
	}
}

func TestOpenMaybeGZ(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.ndjson")
	if err := os.WriteFile(plain, []byte("{\"a\":1}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	zipped := filepath.Join(dir, "zipped.ndjson.gz")
	buf := bytes.Buffer{}
	gzw := gzip.NewWriter(&buf)
	gzw.Write([]byte("{\"a\":1}\n"))
	gzw.Close()
	if err := os.WriteFile(zipped, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{plain, zipped} {
		rc, err := OpenMaybeGZ(p)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(string(got)) != `{"a":1}` {
			t.Errorf("%s: unexpected content %q", p, got)
		}
	}
	rc, err := OpenMaybeGZ(empty)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := io.ReadAll(rc); len(got) != 0 {
		t.Errorf("want empty, got %q", got)
	}
	rc.Close()
}

func TestFlat_ForDevice(t *testing.T) {
	root := t.TempDir()
	f := NewFlatWithRoot(root).ForDevice(conceptual.DeviceID("rye"))
	if f.Path() != filepath.Join(root, "devices", "rye") {
		t.Errorf("unexpected path %s", f.Path())
	}
	w, err := f.TracksGZWriter()
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("{}\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.Exists() {
		t.Error("expected device directory to be created")
	}
}
