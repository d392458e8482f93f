package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/pattern"
)

func init() {
	cmd := &cobra.Command{
		Use:   "predict <route>",
		Short: "Predict likely next routes",
		Args:  cobra.ExactArgs(1),
		Run:   runPredict,
	}

	cmd.Flags().IntP("limit", "l", 3, "Max predictions")

	RootCmd.AddCommand(cmd)
}

func runPredict(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

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

	preds := tr.Predict(args[0], limit)

	b, _ := json.MarshalIndent(preds, "", "  ")
	fmt.Println(string(b))
}
