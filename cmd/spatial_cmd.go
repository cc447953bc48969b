package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func spatialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spatial",
		Short: "Manage quadrants, clusters and neighborhoods",
	}
	cmd.AddCommand(spatialInitCmd())
	cmd.AddCommand(spatialClusterCmd())
	cmd.AddCommand(spatialNeighborsCmd())
	cmd.AddCommand(spatialMembersCmd())
	cmd.AddCommand(spatialStatsCmd())
	cmd.AddCommand(spatialLabelCmd())
	return cmd
}

func spatialInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the fixed quadrant regions for the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.spatial.InitQuadrants(context.Background(), rt.cfg.Tenant)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d quadrants\n", n)
			return nil
		},
	}
}

func spatialClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Run a clustering pass over unassigned memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.spatial.RunClustering(context.Background(), rt.cfg.Tenant)
			if err != nil {
				return err
			}
			fmt.Printf("Scanned %d: %d joined, %d clusters created, %d left unassigned\n",
				res.Scanned, res.Joined, res.Created, res.Orphaned)
			return nil
		},
	}
}

func spatialNeighborsCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "neighbors <id>",
		Short: "List a memory's neighborhood",
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

			neighbors, err := rt.spatial.Neighborhood(context.Background(), rt.cfg.Tenant, id, k)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tCONTENT")
			for _, m := range neighbors {
				content := m.Content
				if len(content) > 60 {
					content = content[:60] + "…"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Type, content)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&k, "k", 10, "neighborhood size")
	return cmd
}

func spatialMembersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "members <quadrant-code|cluster-id|cluster-name>",
		Short: "List the memories in a quadrant or cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			members, err := rt.spatial.Members(context.Background(), rt.cfg.Tenant, args[0], limit)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Println("No members")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tCONTENT")
			for _, m := range members {
				content := m.Content
				if len(content) > 60 {
					content = content[:60] + "…"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Type, content)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max members to list")
	return cmd
}

func spatialStatsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show spatial index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			st, err := rt.spatial.GetStats(context.Background(), rt.cfg.Tenant)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(st)
			}
			fmt.Println("Quadrants:")
			for _, q := range st.Quadrants {
				fmt.Printf("  %-12s %d members\n", q.Code, q.MemberCount)
			}
			fmt.Printf("Clusters:   %d (%d memories, avg coherence %.2f)\n",
				st.Clusters, st.Clustered, st.AvgCohere)
			fmt.Printf("Unassigned: %d\n", st.Unassigned)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func spatialLabelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label <cluster-id> <name...>",
		Short: "Rename a cluster",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid cluster id: %w", err)
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.spatial.LabelCluster(context.Background(), rt.cfg.Tenant, id, strings.Join(args[1:], " "))
		},
	}
}
