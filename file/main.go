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

package file

import (
	"context"
	"os"

	"github.com/lakewing/fpk/pipeline"
	"github.com/lakewing/fpk/termstat"
	"github.com/pkg/errors"
)

// Main holds the options for running file ingestion.
type Main struct {
	pipeline.Config

	Dir      string `help:"Directory to ingest record files from."`
	Codec    string `help:"File encoding: jsonl, csv, or avro."`
	Watch    bool   `help:"Keep running and ingest new files as they appear."`
	SourceID string `help:"Source identifier used for checkpoints."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Config:   pipeline.NewConfig(),
		Dir:      "drop",
		Codec:    string(CodecJSONL),
		SourceID: "files",
	}
}

// Run ingests the directory through the pipeline.
func (m *Main) Run(ctx context.Context) error {
	opts := []SrcOption{OptSrcCodec(Codec(m.Codec))}
	if m.Watch {
		opts = append(opts, OptSrcWatch())
	}
	p, err := pipeline.Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	src, err := NewSource(m.Dir, append(opts, OptSrcLogger(p.Log))...)
	if err != nil {
		return errors.Wrap(err, "opening file source")
	}
	defer src.Close()

	ing, err := p.Ingester(m.Config, m.SourceID, src)
	if err != nil {
		return errors.Wrap(err, "building ingester")
	}
	return errors.Wrap(ing.Run(ctx), "running ingester")
}
