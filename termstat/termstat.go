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

// Package termstat provides a stats implementation which periodically logs
// pipeline counters to the given writer. It is meant for debugging runs at
// the terminal in lieu of an actual collector writing to an external tool
// like graphite or datadog.
package termstat

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector collects stats and prints them to the terminal.
type Collector struct {
	lock    sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	timings map[string]time.Duration
	changed bool
	out     io.Writer
}

// NewCollector initializes and returns a new Collector.
func NewCollector(out io.Writer) *Collector {
	c := &Collector{
		counts:  make(map[string]int64),
		gauges:  make(map[string]float64),
		timings: make(map[string]time.Duration),
		out:     out,
	}
	go func() {
		tick := time.NewTicker(time.Second * 2)
		for ; ; <-tick.C {
			c.write()
		}
	}()
	return c
}

func sampled(rate float64) bool {
	return rate >= 1 || rand.Float64() <= rate
}

// Count adds value to the named stat at the specified rate.
func (c *Collector) Count(name string, value int64, rate float64, tags ...string) {
	if !sampled(rate) {
		return
	}
	c.lock.Lock()
	c.counts[name] += value
	c.changed = true
	c.lock.Unlock()
}

// Gauge records the latest value of the named stat.
func (c *Collector) Gauge(name string, value float64, rate float64, tags ...string) {
	if !sampled(rate) {
		return
	}
	c.lock.Lock()
	c.gauges[name] = value
	c.changed = true
	c.lock.Unlock()
}

// Timing records the latest duration of the named stat.
func (c *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {
	if !sampled(rate) {
		return
	}
	c.lock.Lock()
	c.timings[name] = value
	c.changed = true
	c.lock.Unlock()
}

func (c *Collector) write() {
	c.lock.Lock()
	if !c.changed {
		c.lock.Unlock()
		return
	}
	parts := make([]string, 0, len(c.counts)+len(c.gauges)+len(c.timings))
	for name, v := range c.counts {
		parts = append(parts, fmt.Sprintf("%s: %d", name, v))
	}
	for name, v := range c.gauges {
		parts = append(parts, fmt.Sprintf("%s: %.2f", name, v))
	}
	for name, v := range c.timings {
		parts = append(parts, fmt.Sprintf("%s: %s", name, v))
	}
	c.changed = false
	c.lock.Unlock()

	sort.Strings(parts)
	fmt.Fprintf(c.out, "\r%s ", strings.Join(parts, " "))
}
