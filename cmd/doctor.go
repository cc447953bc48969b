package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/config"
	"github.com/specmem/specmem/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("specmem doctor")
	fmt.Printf("  OS:       %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("  Go:       %s\n", goruntime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.ValidateTuning(); err != nil {
		fmt.Printf("  Tuning:   INVALID (%s)\n", err)
	} else {
		fmt.Println("  Tuning:   OK")
	}

	fmt.Println()
	fmt.Printf("  Database: %s\n", redactDSN(cfg.Database.DSN))
	if db, err := pg.OpenDB(cfg.Database.DSN); err != nil {
		fmt.Printf("            UNREACHABLE (%s)\n", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		var hasVector bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&hasVector)
		cancel()
		switch {
		case err != nil:
			fmt.Printf("            connected, extension check failed (%s)\n", err)
		case !hasVector:
			fmt.Println("            connected, pgvector extension MISSING (run: specmem migrate)")
		default:
			fmt.Println("            OK (pgvector present)")
		}
		db.Close()
	}

	fmt.Println()
	fmt.Printf("  Embedding socket: %s", cfg.Embedding.SocketPath)
	conn, err := net.DialTimeout("unix", cfg.Embedding.SocketPath, 2*time.Second)
	if err != nil {
		fmt.Println(" (NOT LISTENING)")
	} else {
		conn.Close()
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Overflow DB:      %s\n", cfg.Overflow.Path)
}

// redactDSN hides the credential portion of a DSN for display.
func redactDSN(dsn string) string {
	at := strings.IndexByte(dsn, '@')
	scheme := strings.Index(dsn, "://")
	if at > 0 && scheme > 0 && scheme+3 < at {
		return dsn[:scheme+3] + "***" + dsn[at:]
	}
	return dsn
}
