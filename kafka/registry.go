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

package kafka

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/lakewing/fpk"
	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"
)

// RegistrySource consumes avro-encoded kafka messages framed with the
// confluent wire format, resolving writer schemas from a schema registry.
// Decoded records are re-encoded as JSON so the downstream parser sees the
// same payload shape as the plain Source.
type RegistrySource struct {
	Source
	RegistryURL string

	lock  sync.RWMutex
	cache map[int32]*goavro.Codec
}

// NewRegistrySource returns a RegistrySource with localhost defaults.
func NewRegistrySource() *RegistrySource {
	src := &RegistrySource{
		RegistryURL: "localhost:8081",
		cache:       make(map[int32]*goavro.Codec),
	}
	src.Source = *NewSource()
	return src
}

// Record returns the next message with its avro value decoded and
// re-encoded as JSON.
func (s *RegistrySource) Record() (*fpk.RawRecord, error) {
	rec, err := s.Source.Record()
	if err != nil {
		return rec, err
	}
	val := rec.Payload
	if len(val) <= 6 || val[0] != 0 {
		return nil, errors.Errorf("unexpected magic byte or length in avro kafka value, should be 0x00, but got 0x%.8s", val)
	}
	id := int32(binary.BigEndian.Uint32(val[1:]))
	codec, err := s.getCodec(id)
	if err != nil {
		return nil, errors.Wrap(err, "getting avro codec")
	}
	native, _, err := codec.NativeFromBinary(val[5:])
	if err != nil {
		return nil, errors.Wrap(err, "decoding avro record")
	}
	rec.Payload, err = json.Marshal(native)
	return rec, errors.Wrap(err, "re-encoding avro record")
}

// registrySchema is the object produced by the schema registry.
type registrySchema struct {
	Schema  string `json:"schema"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
	ID      int    `json:"id"`
}

func (s *RegistrySource) getCodec(id int32) (codec *goavro.Codec, rerr error) {
	s.lock.RLock()
	if codec, ok := s.cache[id]; ok {
		s.lock.RUnlock()
		return codec, nil
	}
	s.lock.RUnlock()
	s.lock.Lock()
	defer s.lock.Unlock()
	r, err := http.Get(fmt.Sprintf("http://%s/schemas/ids/%d", s.RegistryURL, id))
	if err != nil {
		return nil, errors.Wrap(err, "getting schema from registry")
	}
	defer func() {
		// Keep the primary error; a close failure only surfaces on its own.
		if cerr := r.Body.Close(); rerr == nil {
			rerr = cerr
		}
	}()
	if r.StatusCode >= 300 {
		bod, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get schema, code: %d, no body", r.StatusCode)
		}
		return nil, errors.Errorf("failed to get schema, code: %d, resp: %s", r.StatusCode, bod)
	}
	schema := &registrySchema{}
	if err := json.NewDecoder(r.Body).Decode(schema); err != nil {
		return nil, errors.Wrap(err, "decoding schema from registry")
	}
	codec, err = goavro.NewCodec(schema.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	s.cache[id] = codec
	return codec, rerr
}
