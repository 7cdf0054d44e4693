package spawn

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ResourceStore turns bootstrap text into an identifier a new context can
// load, and releases it once the context is gone.
type ResourceStore interface {
	Create(text []byte) (string, error)
	Open(id string) ([]byte, error)
	Release(id string) error
}

// MemoryResources keeps resources in process memory under "mem:" ids.
type MemoryResources struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryResources() *MemoryResources {
	return &MemoryResources{items: make(map[string][]byte)}
}

func (m *MemoryResources) Create(text []byte) (string, error) {
	id := "mem:" + uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = append([]byte(nil), text...)
	return id, nil
}

func (m *MemoryResources) Open(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBootstrap, id)
	}
	return append([]byte(nil), text...), nil
}

func (m *MemoryResources) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// Len is the number of unreleased resources.
func (m *MemoryResources) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// FileResources stores resources as temp files so a child process can read
// them by path. Dir defaults to os.TempDir().
type FileResources struct {
	Dir string
}

func (f FileResources) Create(text []byte) (string, error) {
	file, err := os.CreateTemp(f.Dir, "spawn-*.json")
	if err != nil {
		return "", err
	}
	if _, err := file.Write(text); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func (f FileResources) Open(id string) ([]byte, error) {
	text, err := os.ReadFile(id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoBootstrap, id)
	}
	return text, err
}

func (f FileResources) Release(id string) error {
	if err := os.Remove(id); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
