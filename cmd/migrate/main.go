package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/migrate"
)

var (
	dsn     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the project manager database schema",
	Long: `Applies the SQL schema embedded in the binary and the generated seeds.
The admin seed grants every permission the service declares.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or PM_PG_DSN")
		}
		return nil
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		printList(cmd, "applied", "nothing to apply", applied)
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
		reverted, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		if reverted == "" {
			cmd.Println("nothing to revert")
			return nil
		}
		cmd.Printf("reverted %s\n", reverted)
		return nil
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply pending seeds",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
		applied, err := mgr.Seed(ctx)
		if err != nil {
			return err
		}
		printList(cmd, "seeded", "nothing to seed", applied)
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			cmd.Println(item)
		}
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("PM_PG_DSN"), "PostgreSQL DSN")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall command timeout")
	rootCmd.AddCommand(upCmd, downCmd, seedCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withManager(fn func(context.Context, *migrate.Manager, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}

		mgr := migrate.NewManager(db, nil, migrate.WithSeeds(migrate.AdminRoleSeed(adminRights())))
		return fn(ctx, mgr, cmd)
	}
}

func adminRights() string {
	return auth.JoinRights(auth.SortedPermissions())
}

func printList(cmd *cobra.Command, verb, empty string, names []string) {
	if len(names) == 0 {
		cmd.Println(empty)
		return
	}
	for _, name := range names {
		cmd.Printf("%s %s\n", verb, name)
	}
}
