package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempSuffix = ".tmp-"

// FileBackend пишет снапшот во временный файл рядом с целевым и переименовывает его.
// Читатель никогда не видит частично записанный файл.
type FileBackend struct {
	path string
	perm os.FileMode
}

// NewFileBackend создаёт backend для файла path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, perm: 0o644}
}

// Path возвращает путь к файлу снапшота.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Name() string { return b.path }

func (b *FileBackend) Load() ([]byte, error) {
	b.removeStaleTemps()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", b.path, err)
	}
	return data, nil
}

func (b *FileBackend) Save(data []byte) (err error) {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+tempSuffix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, b.perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	syncDir(dir)
	return nil
}

// removeStaleTemps удаляет временные файлы, оставшиеся после аварийного завершения.
func (b *FileBackend) removeStaleTemps() {
	pattern := filepath.Join(filepath.Dir(b.path), filepath.Base(b.path)+tempSuffix+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, name := range matches {
		if strings.HasPrefix(filepath.Base(name), filepath.Base(b.path)+tempSuffix) {
			_ = os.Remove(name)
		}
	}
}

// syncDir фиксирует rename на диске; на части платформ fsync каталога не поддерживается.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

var _ Backend = (*FileBackend)(nil)
