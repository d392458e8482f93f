package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List recorded transition patterns",
		Run:   runPatterns,
	}

	cmd.Flags().String("from", "", "Only edges leaving this route")

	RootCmd.AddCommand(cmd)
}

func runPatterns(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	patterns, err := s.Load(cmd.Context())
	if err != nil {
		exitErr("load patterns", err)
	}

	if from != "" {
		edges := patterns[from]
		b, _ := json.MarshalIndent(edges, "", "  ")
		fmt.Println(string(b))
		return
	}

	b, _ := json.MarshalIndent(patterns, "", "  ")
	fmt.Println(string(b))
}
