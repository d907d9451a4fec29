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
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/lakewing/fpk/pipeline"
	"github.com/spf13/cobra"
)

// MaterializeMain is wrapped by NewMaterializeCommand and only exported for
// testing purposes.
var MaterializeMain *pipeline.MaterializeMain

// NewMaterializeCommand returns a new cobra command wrapping
// MaterializeMain.
func NewMaterializeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	MaterializeMain = pipeline.NewMaterializeMain()
	matCommand := &cobra.Command{
		Use:   "materialize",
		Short: "materialize - derive feature vectors from the conformed layer",
		Long: `Computes windowed feature vectors as of a point in time and writes
them to the gold layer and, when redis is configured, the online store.
Re-running over the same data produces the same vectors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := MaterializeMain.Run(signalContext()); err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := matCommand.Flags()
	if err := commandeer.Flags(flags, MaterializeMain); err != nil {
		panic(err)
	}
	return matCommand
}

func init() {
	subcommandFns["materialize"] = NewMaterializeCommand
}
