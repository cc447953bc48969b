package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func hotpathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotpath",
		Short: "Inspect access patterns and predictions",
	}
	cmd.AddCommand(hotpathPredictCmd())
	cmd.AddCommand(hotpathListCmd())
	cmd.AddCommand(hotpathDecayCmd())
	return cmd
}

func hotpathPredictCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "predict <id>",
		Short: "Predict which memories are likely accessed next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid memory id: %w", err)
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			predictions, err := rt.hotpaths.PredictNext(context.Background(), rt.cfg.Tenant, id, limit)
			if err != nil {
				return err
			}
			if len(predictions) == 0 {
				fmt.Println("No access history for this memory.")
				return nil
			}
			for _, p := range predictions {
				fmt.Printf("%.2f  %s\n", p.Probability, p.MemoryID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "max predictions")
	return cmd
}

func hotpathListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded hot paths by heat",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			paths, err := rt.hotpaths.HotPaths(context.Background(), rt.cfg.Tenant, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HEAT\tACCESSES\tLEN\tNAME")
			for _, p := range paths {
				fmt.Fprintf(w, "%.2f\t%d\t%d\t%s\n", p.HeatScore, p.AccessCount, len(p.MemoryIDs), p.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max paths")
	return cmd
}

func hotpathDecayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Apply one heat-decay pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.hotpaths.DecayHeat(context.Background(), rt.cfg.Tenant)
			if err != nil {
				return err
			}
			fmt.Printf("Decayed %d hot paths\n", n)
			return nil
		},
	}
}
