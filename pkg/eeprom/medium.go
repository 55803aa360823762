// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package eeprom

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Medium holds one configuration image.
type Medium interface {
	// ReadImage returns the stored image or ErrNotFound.
	ReadImage() ([]byte, error)
	WriteImage(img []byte) error
}

// File stores the image in a regular file. Writes go to a temporary file
// that is renamed over the image.
type File struct {
	Path string
}

// ReadImage reads the image file.
func (f File) ReadImage() ([]byte, error) {
	img, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return img, err
}

// WriteImage replaces the image file.
func (f File) WriteImage(img []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Memory is an in-process Medium.
type Memory struct {
	mu  sync.Mutex
	img []byte
}

// ReadImage returns a copy of the stored image.
func (m *Memory) ReadImage() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.img == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.img...), nil
}

// WriteImage stores a copy of img.
func (m *Memory) WriteImage(img []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.img = append([]byte(nil), img...)
	return nil
}
