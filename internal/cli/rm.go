package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/navsense/navsense/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete recorded patterns",
		Run:   runRm,
	}

	cmd.Flags().String("from", "", "Only delete edges leaving this route")
	cmd.Flags().Bool("all", false, "Delete the entire pattern table")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	all, _ := cmd.Flags().GetBool("all")

	if from == "" && !all {
		exitErr("rm", fmt.Errorf("pass --from <route> or --all"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	patterns := map[string][]model.Edge{}
	if !all {
		patterns, err = s.Load(ctx)
		if err != nil {
			exitErr("load patterns", err)
		}
		delete(patterns, from)
	}

	if err := s.Save(ctx, patterns); err != nil {
		exitErr("save patterns", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true}`+"\n")
}
