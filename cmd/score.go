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

package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/lakewing/fpk/pipeline"
	"github.com/spf13/cobra"
)

// ScoreMain is wrapped by NewScoreCommand and only exported for testing
// purposes.
var ScoreMain *pipeline.ScoreMain

// NewScoreCommand returns a new cobra command wrapping ScoreMain.
func NewScoreCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ScoreMain = pipeline.NewScoreMain()
	scoreCommand := &cobra.Command{
		Use:   "score",
		Short: "score - run batch scoring over the curated layer",
		Long: `Applies the production model to each entity's features as of a point
in time, writes the score table, and prints the score records to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ScoreMain.Run(signalContext())
		},
	}
	flags := scoreCommand.Flags()
	if err := commandeer.Flags(flags, ScoreMain); err != nil {
		panic(err)
	}
	return scoreCommand
}

func init() {
	subcommandFns["score"] = NewScoreCommand
}
