package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func overflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overflow",
		Short: "Manage the compressed cold-storage tier",
	}
	cmd.AddCommand(overflowPutCmd())
	cmd.AddCommand(overflowGetCmd())
	cmd.AddCommand(overflowDeleteCmd())
	cmd.AddCommand(overflowInfoCmd())
	cmd.AddCommand(overflowCleanupCmd())
	cmd.AddCommand(overflowStatsCmd())
	return cmd
}

func overflowPutCmd() *cobra.Command {
	var ttlDays int
	cmd := &cobra.Command{
		Use:   "put <key> [file]",
		Short: "Store a payload (from file or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 2 {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}

			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()

			entry, err := st.Store(context.Background(), args[0], data, ttlDays)
			if err != nil {
				return err
			}
			fmt.Printf("Stored %q: %d bytes -> %d compressed, ttl %d days\n",
				entry.Key, len(data), entry.Size, entry.TTLDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&ttlDays, "ttl", 0, "TTL in days (0 = config default)")
	return cmd
}

func overflowGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()

			data, found, err := st.Retrieve(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[0])
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func overflowDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key...>",
		Short: "Delete overflow entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()

			n, err := st.DeleteMany(context.Background(), args)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d of %d\n", n, len(args))
			return nil
		},
	}
}

func overflowInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <key>",
		Short: "Show an entry's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()

			entry, err := st.GetMetadata(context.Background(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}
}

func overflowCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries and enforce the size bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()
			ctx := context.Background()

			expired, err := st.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			evicted, err := st.EnforceMaxEntries(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired, evicted %d over bound\n", expired, evicted)
			return nil
		},
	}
}

func overflowStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show overflow storage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openOverflow()
			if err != nil {
				return err
			}
			defer st.Shutdown()

			stats, err := st.GetStats(context.Background())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
