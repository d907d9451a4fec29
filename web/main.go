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

package web

import (
	"context"
	"os"
	"time"

	"github.com/lakewing/fpk/feature"
	"github.com/lakewing/fpk/pipeline"
	"github.com/lakewing/fpk/score"
	"github.com/lakewing/fpk/termstat"
	"github.com/pkg/errors"
)

// Main holds the options for running the feature and scoring API server.
type Main struct {
	pipeline.Config

	Bind    string        `help:"Address to bind the API server to."`
	Timeout time.Duration `help:"Online scoring latency bound."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Config:  pipeline.NewConfig(),
		Bind:    ":8101",
		Timeout: 500 * time.Millisecond,
	}
}

// Run serves the API until the context is canceled.
func (m *Main) Run(ctx context.Context) error {
	p, err := pipeline.Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	scorer := p.Scorer(score.StaticRegistry{Model: score.DefaultModel()},
		score.OptScorerTimeout(m.Timeout))
	var onlineGetter score.OnlineGetter
	if p.Online != nil {
		onlineGetter = p.Online
	}
	srv := NewServer(feature.NewLookup(p.Gold), onlineGetter, scorer,
		OptServerAddr(m.Bind),
		OptServerCatalog(p.Catalog),
		OptServerLogger(p.Log),
	)
	if err := srv.Start(); err != nil {
		return errors.Wrap(err, "starting server")
	}
	p.Log.Printf("serving on %s", srv.Addr())
	<-ctx.Done()
	return errors.Wrap(srv.Close(), "closing server")
}
