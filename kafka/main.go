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
	"context"
	"os"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/pipeline"
	"github.com/lakewing/fpk/termstat"
	"github.com/pkg/errors"
)

// Main holds the options for running stream ingestion from kafka.
type Main struct {
	pipeline.Config

	Hosts       []string `help:"Comma separated list of kafka hosts and ports."`
	Topic       string   `help:"Kafka topic to consume."`
	Group       string   `help:"Kafka consumer group."`
	RegistryURL string   `help:"URL of the confluent schema registry. Empty consumes JSON instead of avro."`
	MaxMsgs     int      `help:"Stop after this many messages. 0 consumes until interrupted."`
	SourceID    string   `help:"Source identifier used for checkpoints."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Config:   pipeline.NewConfig(),
		Hosts:    []string{"localhost:9092"},
		Topic:    "events",
		Group:    "fpk0",
		SourceID: "kafka",
	}
}

// Run consumes the topic through the pipeline until the context is canceled
// or MaxMsgs is reached.
func (m *Main) Run(ctx context.Context) error {
	var src fpk.Source
	var closer interface{ Close() error }
	if m.RegistryURL == "" {
		s := NewSource()
		s.Hosts, s.Topic, s.Group, s.MaxMsgs = m.Hosts, m.Topic, m.Group, m.MaxMsgs
		if err := s.Open(); err != nil {
			return errors.Wrap(err, "opening kafka source")
		}
		src, closer = s, s
	} else {
		s := NewRegistrySource()
		s.Hosts, s.Topic, s.Group, s.MaxMsgs = m.Hosts, m.Topic, m.Group, m.MaxMsgs
		s.RegistryURL = m.RegistryURL
		if err := s.Open(); err != nil {
			return errors.Wrap(err, "opening kafka source")
		}
		src, closer = s, s
	}
	defer closer.Close()

	p, err := pipeline.Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	ing, err := p.Ingester(m.Config, m.SourceID, src)
	if err != nil {
		return errors.Wrap(err, "building ingester")
	}
	return errors.Wrap(ing.Run(ctx), "running ingester")
}
