// Copyright 2021 Lakewing Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package table implements the layered table store: named layers (bronze
// raw, silver conformed, gold curated) persisted in leveldb with an
// append-only version chain, time travel, additive schema evolution, and
// optimistically versioned commits so a streaming and a batch writer can
// share a layer without a global lock.
package table

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// Conventional layer names.
const (
	Bronze = "bronze"
	Silver = "silver"
	Gold   = "gold"
	Scores = "scores"
)

// Store holds the layers of one table lineage, each backed by its own
// leveldb under the store directory.
type Store struct {
	dir  string
	log  fpk.Logger
	mu   sync.Mutex
	open map[string]*Layer
}

// StoreOption is a functional option for the Store.
type StoreOption func(*Store)

// OptStoreLogger sets the logger used by the store and its layers.
func OptStoreLogger(l fpk.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if needed) a layered store rooted at dir.
func Open(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating store dir %q", dir)
	}
	s := &Store{
		dir:  dir,
		log:  fpk.NopLogger{},
		open: make(map[string]*Layer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Layer opens the named layer, creating it if it does not exist. Repeated
// calls return the same handle; layer options apply only on first open.
func (s *Store) Layer(name string, opts ...LayerOption) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.open[name]; ok {
		return l, nil
	}
	db, err := leveldb.OpenFile(filepath.Join(s.dir, name), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb for layer %q", name)
	}
	l := &Layer{
		name:   name,
		db:     db,
		log:    s.log,
		natKey: func(r *fpk.ConformedRow) string { return string(r.Entity) },
	}
	for _, opt := range opts {
		opt(l)
	}
	s.open[name] = l
	return l, nil
}

// Close closes every open layer.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs errorList
	for name, l := range s.open {
		if err := l.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "layer %q", name))
		}
		delete(s.open, name)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type errorList []error

func (errs errorList) Error() string {
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}
