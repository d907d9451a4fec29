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
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"

	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"
)

// Codec names a file encoding. Every codec decodes to one JSON object per
// record so the downstream parser is encoding-agnostic.
type Codec string

const (
	// CodecJSONL is newline-delimited JSON objects.
	CodecJSONL Codec = "jsonl"
	// CodecCSV is comma-separated values with a header row.
	CodecCSV Codec = "csv"
	// CodecAvro is an avro object container file.
	CodecAvro Codec = "avro"
)

// Decode reads every record from r as JSON payload bytes.
func Decode(r io.Reader, codec Codec) ([][]byte, error) {
	switch codec {
	case CodecJSONL:
		return decodeJSONL(r)
	case CodecCSV:
		return decodeCSV(r)
	case CodecAvro:
		return decodeAvro(r)
	}
	return nil, errors.Errorf("unsupported codec: %q", codec)
}

func decodeFile(path string, codec Codec) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return Decode(f, codec)
}

func decodeJSONL(r io.Reader) ([][]byte, error) {
	var payloads [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)
		payloads = append(payloads, payload)
	}
	return payloads, errors.Wrap(scanner.Err(), "scanning lines")
}

// decodeCSV maps each data row onto the header row and re-encodes it as a
// JSON object. Values stay strings; the schema coerces them downstream.
func decodeCSV(r io.Reader) ([][]byte, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header row")
	}
	var payloads [][]byte
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return payloads, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading row")
		}
		obj := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(row) {
				obj[name] = row[i]
			}
		}
		payload, err := json.Marshal(obj)
		if err != nil {
			return nil, errors.Wrap(err, "encoding row")
		}
		payloads = append(payloads, payload)
	}
}

func decodeAvro(r io.Reader) ([][]byte, error) {
	ocf, err := goavro.NewOCFReader(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(err, "opening avro container")
	}
	var payloads [][]byte
	for ocf.Scan() {
		native, err := ocf.Read()
		if err != nil {
			return nil, errors.Wrap(err, "reading avro datum")
		}
		payload, err := json.Marshal(native)
		if err != nil {
			return nil, errors.Wrap(err, "encoding avro datum")
		}
		payloads = append(payloads, payload)
	}
	return payloads, errors.Wrap(ocf.Err(), "scanning avro container")
}
