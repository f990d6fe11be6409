package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

const fileExt = ".json"

// FileBackend keeps one JSON file per object in a directory per kind.
type FileBackend struct {
	root string
}

func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

func (b *FileBackend) dir(kind model.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return filepath.Join(b.root, string(kind)), nil
}

func (b *FileBackend) Load(kind model.Kind) ([]Record, error) {
	dir, err := b.dir(kind)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Printf("store: skip %s: %v", e.Name(), err)
			continue
		}
		out = append(out, Record{ID: strings.TrimSuffix(e.Name(), fileExt), Data: data})
	}
	return out, nil
}

// Put replaces the object's file via a temp file and rename.
func (b *FileBackend) Put(kind model.Kind, id string, data []byte) error {
	dir, err := b.dir(kind)
	if err != nil {
		return err
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid file name for id %q", id)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, id+fileExt))
}

func (b *FileBackend) Remove(kind model.Kind, id string) error {
	dir, err := b.dir(kind)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, id+fileExt))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
