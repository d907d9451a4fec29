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

package s3

import (
	"context"
	"os"

	"github.com/lakewing/fpk/file"
	"github.com/lakewing/fpk/pipeline"
	"github.com/lakewing/fpk/termstat"
	"github.com/pkg/errors"
)

// Main holds the options for running batch ingestion from an S3 bucket.
type Main struct {
	pipeline.Config

	Bucket   string `help:"S3 bucket to ingest objects from."`
	Prefix   string `help:"Only ingest objects matching this key prefix."`
	Region   string `help:"AWS region of the bucket."`
	Codec    string `help:"Object encoding: jsonl, csv, or avro."`
	SourceID string `help:"Source identifier used for checkpoints."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Config:   pipeline.NewConfig(),
		Region:   "us-east-1",
		Codec:    string(file.CodecJSONL),
		SourceID: "s3",
	}
}

// Run ingests the bucket through the pipeline.
func (m *Main) Run(ctx context.Context) error {
	p, err := pipeline.Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	src, err := NewSource(m.Bucket,
		OptSrcPrefix(m.Prefix),
		OptSrcRegion(m.Region),
		OptSrcCodec(file.Codec(m.Codec)),
		OptSrcLogger(p.Log),
	)
	if err != nil {
		return errors.Wrap(err, "opening s3 source")
	}

	ing, err := p.Ingester(m.Config, m.SourceID, src)
	if err != nil {
		return errors.Wrap(err, "building ingester")
	}
	return errors.Wrap(ing.Run(ctx), "running ingester")
}
