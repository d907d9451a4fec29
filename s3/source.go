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

// Package s3 implements the batch ingestion source over objects in an S3
// bucket. It shares the file package's codecs and cursor semantics: an
// object counts as processed only once all its records have been read.
package s3

import (
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/file"
	"github.com/pkg/errors"
)

// Source implements fpk.Source over the objects in a bucket.
type Source struct {
	bucket string
	prefix string
	region string
	codec  file.Codec
	log    fpk.Logger

	s3   *awss3.S3
	done map[string]bool
	keys []string

	buf     [][]byte
	curName string
	curIdx  int
}

// SrcOption is a functional option for the s3 Source.
type SrcOption func(*Source)

// OptSrcRegion sets the AWS region.
func OptSrcRegion(region string) SrcOption {
	return func(s *Source) { s.region = region }
}

// OptSrcPrefix restricts the source to objects matching the prefix.
func OptSrcPrefix(prefix string) SrcOption {
	return func(s *Source) { s.prefix = prefix }
}

// OptSrcCodec sets the object encoding. Default jsonl.
func OptSrcCodec(c file.Codec) SrcOption {
	return func(s *Source) { s.codec = c }
}

// OptSrcLogger sets the logger.
func OptSrcLogger(l fpk.Logger) SrcOption {
	return func(s *Source) { s.log = l }
}

// NewSource creates a Source listing the given bucket.
func NewSource(bucket string, opts ...SrcOption) (*Source, error) {
	s := &Source{
		bucket: bucket,
		region: "us-east-1",
		codec:  file.CodecJSONL,
		log:    fpk.NopLogger{},
		done:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(s.region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	s.s3 = awss3.New(sess)
	if err := s.list(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) list() error {
	s.keys = s.keys[:0]
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	err := s.s3.ListObjectsV2Pages(input, func(page *awss3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if !s.done[key] {
				s.keys = append(s.keys, key)
			}
		}
		return true
	})
	return errors.Wrapf(err, "listing s3://%s/%s", s.bucket, s.prefix)
}

// Seek implements fpk.CursorSeeker: objects the checkpoint marks done are
// skipped.
func (s *Source) Seek(c fpk.Cursor) error {
	fc, ok := c.(fpk.FileCursor)
	if !ok {
		return errors.Errorf("cannot seek s3 source with %q cursor", c.Kind())
	}
	for key := range fc.Done {
		s.done[key] = true
	}
	return s.list()
}

// Record returns the next record. Like the file source, only the last
// record of an object carries the cursor marking it processed.
func (s *Source) Record() (*fpk.RawRecord, error) {
	for {
		if len(s.buf) > 0 {
			payload := s.buf[0]
			s.buf = s.buf[1:]
			rec := &fpk.RawRecord{
				Source:   "s3://" + s.bucket,
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

		if len(s.keys) == 0 {
			return nil, io.EOF
		}
		key := s.keys[0]
		s.keys = s.keys[1:]
		if s.done[key] {
			continue
		}
		s.done[key] = true
		buf, err := s.fetch(key)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 {
			s.log.Debugf("skipping empty object %s", key)
			continue
		}
		s.buf, s.curName, s.curIdx = buf, key, 0
	}
}

func (s *Source) fetch(key string) ([][]byte, error) {
	out, err := s.s3.GetObject(&awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()
	buf, err := file.Decode(out.Body, s.codec)
	return buf, errors.Wrapf(err, "decoding s3://%s/%s", s.bucket, key)
}
