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

// Package file implements the batch ingestion source over files dropped in
// a directory. The cursor is the set of fully processed files; a file's
// records only count as processed once the whole file has been read, so a
// restart mid-file reprocesses it from the top.
package file

import (
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
)

// Source implements fpk.Source over a directory of record files.
type Source struct {
	dir   string
	codec Codec
	watch bool
	log   fpk.Logger

	done    map[string]bool
	pending []string
	buf     [][]byte
	curName string
	curIdx  int

	watcher *fsnotify.Watcher
}

// SrcOption is a functional option for the file Source.
type SrcOption func(*Source)

// OptSrcCodec sets the file encoding. Default jsonl.
func OptSrcCodec(c Codec) SrcOption {
	return func(s *Source) { s.codec = c }
}

// OptSrcWatch makes the source tail the directory for new files instead of
// returning EOF when the initial listing is exhausted.
func OptSrcWatch() SrcOption {
	return func(s *Source) { s.watch = true }
}

// OptSrcLogger sets the logger.
func OptSrcLogger(l fpk.Logger) SrcOption {
	return func(s *Source) { s.log = l }
}

// NewSource creates a Source reading the given directory.
func NewSource(dir string, opts ...SrcOption) (*Source, error) {
	s := &Source{
		dir:   dir,
		codec: CodecJSONL,
		log:   fpk.NopLogger{},
		done:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	if s.watch {
		var err error
		s.watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, errors.Wrap(err, "creating watcher")
		}
		if err := s.watcher.Add(dir); err != nil {
			return nil, errors.Wrapf(err, "watching %s", dir)
		}
	}
	return s, nil
}

func (s *Source) scan() error {
	infos, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return errors.Wrapf(err, "reading directory %s", s.dir)
	}
	s.pending = s.pending[:0]
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if !s.done[info.Name()] {
			s.pending = append(s.pending, info.Name())
		}
	}
	sort.Strings(s.pending)
	return nil
}

// Seek implements fpk.CursorSeeker: files the checkpoint marks done are
// skipped.
func (s *Source) Seek(c fpk.Cursor) error {
	fc, ok := c.(fpk.FileCursor)
	if !ok {
		return errors.Errorf("cannot seek file source with %q cursor", c.Kind())
	}
	for name := range fc.Done {
		s.done[name] = true
	}
	return s.scan()
}

// Record returns the next record. The last record of each file carries the
// cursor marking that file processed; earlier records carry none, so a
// checkpoint can never skip the remainder of a half-read file.
func (s *Source) Record() (*fpk.RawRecord, error) {
	for {
		if len(s.buf) > 0 {
			payload := s.buf[0]
			s.buf = s.buf[1:]
			rec := &fpk.RawRecord{
				Source:   s.dir,
				ID:       fmt.Sprintf("%s#%d", s.curName, s.curIdx),
				Payload:  payload,
				Ingested: time.Now().UTC(),
			}
			s.curIdx++
			if len(s.buf) == 0 {
				rec.Cursor = fpk.NewFileCursor(s.curName)
			}
			return rec, nil
		}

		if len(s.pending) == 0 {
			if !s.watch {
				return nil, io.EOF
			}
			if err := s.await(); err != nil {
				return nil, err
			}
			continue
		}

		name := s.pending[0]
		s.pending = s.pending[1:]
		if s.done[name] {
			continue
		}
		s.done[name] = true
		buf, err := decodeFile(filepath.Join(s.dir, name), s.codec)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", name)
		}
		if len(buf) == 0 {
			s.log.Debugf("skipping empty file %s", name)
			continue
		}
		s.buf, s.curName, s.curIdx = buf, name, 0
	}
}

// await blocks until the watcher reports a new or modified file in the
// directory, then rescans.
func (s *Source) await() error {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return io.EOF
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.log.Debugf("noticed %s", ev.Name)
			return s.scan()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return io.EOF
			}
			return errors.Wrap(err, "watching directory")
		}
	}
}

// Close stops the directory watcher if one is running.
func (s *Source) Close() error {
	if s.watcher == nil {
		return nil
	}
	return errors.Wrap(s.watcher.Close(), "closing watcher")
}
