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

// Package kafka implements the streaming ingestion source on a kafka
// consumer group. Each record carries a partition-offset cursor so the
// checkpoint manager can resume the stream exactly where a prior run
// stopped.
package kafka

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"time"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
)

// Source implements fpk.Source over a kafka consumer group. One Source
// consumes one topic; the cursor tracks next offset per partition.
type Source struct {
	Hosts   []string
	Topic   string
	Group   string
	MaxMsgs int
	numMsgs int

	consumer *cluster.Consumer
}

// NewSource returns a Source with localhost defaults.
func NewSource() *Source {
	return &Source{
		Hosts: []string{"localhost:9092"},
		Topic: "events",
		Group: "fpk0",
	}
}

// Open initializes the kafka consumer.
func (s *Source) Open() error {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	var err error
	s.consumer, err = cluster.NewConsumer(s.Hosts, s.Group, []string{s.Topic}, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}

	go func() {
		for err := range s.consumer.Errors() {
			log.Printf("kafka error: %s\n", err.Error())
		}
	}()
	go func() {
		for ntf := range s.consumer.Notifications() {
			log.Printf("kafka rebalanced: %+v\n", ntf)
		}
	}()
	return nil
}

// Record returns the next kafka message as a raw record. io.EOF after
// MaxMsgs messages when MaxMsgs is set.
func (s *Source) Record() (*fpk.RawRecord, error) {
	if s.MaxMsgs > 0 {
		s.numMsgs++
		if s.numMsgs > s.MaxMsgs {
			return nil, io.EOF
		}
	}
	msg, ok := <-s.consumer.Messages()
	if !ok {
		return nil, errors.New("messages channel closed")
	}
	return &fpk.RawRecord{
		Source:   s.Topic,
		ID:       fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset),
		Payload:  msg.Value,
		Ingested: time.Now().UTC(),
		Cursor:   fpk.StreamCursor{msg.Partition: msg.Offset + 1},
	}, nil
}

// Seek implements fpk.CursorSeeker, rewinding the consumer group to the
// checkpointed offsets. Must be called after Open.
func (s *Source) Seek(c fpk.Cursor) error {
	sc, ok := c.(fpk.StreamCursor)
	if !ok {
		return errors.Errorf("cannot seek kafka source with %q cursor", c.Kind())
	}
	for partition, next := range sc {
		// ResetPartitionOffset takes the last processed offset, not
		// the next one to read.
		s.consumer.ResetPartitionOffset(s.Topic, partition, next-1, "")
	}
	return errors.Wrap(s.consumer.CommitOffsets(), "committing rewound offsets")
}

// CommitCursor implements fpk.CursorCommitter, marking checkpointed
// offsets as processed with the broker.
func (s *Source) CommitCursor(c fpk.Cursor) error {
	sc, ok := c.(fpk.StreamCursor)
	if !ok {
		return errors.Errorf("cannot commit %q cursor to kafka source", c.Kind())
	}
	for partition, next := range sc {
		s.consumer.MarkPartitionOffset(s.Topic, partition, next-1, "")
	}
	return nil
}

// Close closes the underlying kafka consumer.
func (s *Source) Close() error {
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}
