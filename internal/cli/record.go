package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/pattern"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record <from> <to>",
		Short: "Record one route transition",
		Args:  cobra.ExactArgs(2),
		Run:   runRecord,
	}

	RootCmd.AddCommand(cmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	from, to := args[0], args[1]

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	cfg := loadConfig()
	tr := pattern.NewTracker(pattern.Config{
		MaxEdgesPerRoute:     cfg.Pattern.MaxEdgesPerRoute,
		ProbabilityThreshold: cfg.Pattern.ProbabilityThreshold,
		RecencyWeight:        cfg.Pattern.RecencyWeight,
	}, s, clock.Real{}, newLogger())

	tr.RecordTransition(from, to)
	if err := tr.Flush(cmd.Context()); err != nil {
		exitErr("flush", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"from":%q,"to":%q}`+"\n", from, to)
}
