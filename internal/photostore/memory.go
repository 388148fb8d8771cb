// Package photostore uploads attendance evidence photos.
package photostore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrPathExists is returned instead of overwriting an existing object.
var ErrPathExists = errors.New("photo path already exists")

type object struct {
	data        []byte
	contentType string
}

// Memory keeps photos in process memory. Used in dev and tests.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string]object
	// Fail, when set, is returned by the next Upload calls.
	Fail error
	// Uploads counts Upload calls, including rejected ones.
	Uploads int
}

// NewMemory creates an empty store serving URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://photos"
	}
	return &Memory{BaseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]object)}
}

// Upload stores a copy of data at path.
func (m *Memory) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Fail != nil {
		return "", m.Fail
	}
	if _, exists := m.objects[path]; exists {
		return "", ErrPathExists
	}
	m.objects[path] = object{data: bytes.Clone(data), contentType: contentType}
	return m.URL(path), nil
}

// URL returns the public URL of path.
func (m *Memory) URL(path string) string {
	return m.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// Get returns the stored bytes and content type.
func (m *Memory) Get(path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	return obj.data, obj.contentType, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
