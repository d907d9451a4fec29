package fake

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/lakewing/fpk/kafka"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Main holds the options for seeding demo data.
type Main struct {
	Events    int      `help:"Number of events to generate."`
	Seed      int64    `help:"Random seed. The same seed gives the same events."`
	Customers int      `help:"Number of distinct customers."`
	Dir       string   `help:"Write events as JSONL files into this directory."`
	Files     int      `help:"Number of files to split the events across."`
	Hosts     []string `help:"Kafka hosts to publish events to instead of writing files."`
	Topic     string   `help:"Kafka topic to publish to."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Events:    10000,
		Seed:      1,
		Customers: 100,
		Dir:       "drop",
		Files:     10,
		Topic:     "events",
	}
}

// Run generates the events and writes them to the configured sink.
func (m *Main) Run() error {
	g := NewEventGenerator(m.Seed, m.Customers, time.Now().UTC().Add(-30*24*time.Hour), time.Minute)
	payloads := g.Payloads(m.Events)
	if len(m.Hosts) > 0 {
		return m.publish(payloads)
	}
	return m.write(payloads)
}

func (m *Main) publish(payloads [][]byte) error {
	p, err := kafka.NewProducer(m.Hosts, m.Topic)
	if err != nil {
		return errors.Wrap(err, "connecting producer")
	}
	defer p.Close()
	return errors.Wrap(p.Send("seed", payloads), "publishing events")
}

func (m *Main) write(payloads [][]byte) error {
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", m.Dir)
	}
	files := m.Files
	if files <= 0 {
		files = 1
	}
	per := (len(payloads) + files - 1) / files
	var eg errgroup.Group
	for i := 0; i < files; i++ {
		lo, hi := i*per, (i+1)*per
		if lo >= len(payloads) {
			break
		}
		if hi > len(payloads) {
			hi = len(payloads)
		}
		chunk := payloads[lo:hi]
		name := filepath.Join(m.Dir, fmt.Sprintf("events-%03d.jsonl", i))
		eg.Go(func() error {
			buf := bytes.Buffer{}
			for _, payload := range chunk {
				buf.Write(payload)
				buf.WriteByte('\n')
			}
			return errors.Wrapf(ioutil.WriteFile(name, buf.Bytes(), 0644), "writing %s", name)
		})
	}
	return eg.Wait()
}
