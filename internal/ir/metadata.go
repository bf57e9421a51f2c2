package ir

import (
	"github.com/pkg/errors"
)

// MetadataStore holds named blobs that downstream consumers take exactly
// once, such as calibration data for the quantizer.
type MetadataStore struct {
	entries map[string][]byte
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{entries: make(map[string][]byte)}
}

// Add stores data under name. The store takes ownership of the slice; an
// existing entry with the same name is kept.
func (m *MetadataStore) Add(name string, data []byte) {
	if _, ok := m.entries[name]; ok {
		return
	}
	m.entries[name] = data
}

func (m *MetadataStore) Exists(name string) bool {
	_, ok := m.entries[name]
	return ok
}

// Extract removes the entry and returns it.
func (m *MetadataStore) Extract(name string) ([]byte, error) {
	data, ok := m.entries[name]
	if !ok {
		return nil, errors.Wrapf(ErrMetadataNotFound, "%q", name)
	}
	delete(m.entries, name)
	return data, nil
}

func (m *MetadataStore) Len() int { return len(m.entries) }
