package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/inpatient/internal/config"
	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/domain/occupancy"
	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "inpatient-server",
		Short:        "Ward, bed and admission allocation server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(reconcileCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the allocation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger builds the process logger. Development gets the console writer.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}

// withPool loads config and opens a pool for the one-shot commands below.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format(time.DateTime)
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant identifier: %s", name)
			}
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
					return err
				}
				fmt.Println("Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// reconcileCmd compares every ward's cached occupancy with its live bed
// count and, with --repair, rewrites the drifted counters.
func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Report and optionally repair ward occupancy drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, _ := cmd.Flags().GetBool("repair")
			tenant, _ := cmd.Flags().GetString("tenant")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				logger := newLogger(cfg)

				wards := ward.NewRepo(pool)
				beds := bed.NewRepo(pool)
				admissions := admission.NewRepo(pool)
				tx := db.NewTxManager(pool, db.TxOptions{MaxAttempts: cfg.TxMaxAttempts, BaseDelay: cfg.TxRetryBaseDelay}, logger)
				reporter := occupancy.NewReporter(wards, beds, admissions, logger)
				engine := admission.NewEngine(admissions, wards, beds, tx, logger, admission.Options{})

				return db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
					drifts, err := reporter.Reconcile(ctx)
					if err != nil {
						return err
					}
					if len(drifts) == 0 {
						fmt.Println("No occupancy drift found.")
						return nil
					}

					fmt.Printf("%-36s %-30s %-8s %s\n", "WARD ID", "NAME", "CACHED", "LIVE")
					for _, d := range drifts {
						fmt.Printf("%-36s %-30s %-8d %d\n", d.WardID, d.WardName, d.Cached, d.Live)
					}
					if !repair {
						return nil
					}
					for _, d := range drifts {
						w, err := engine.RepairOccupancy(ctx, d.WardID)
						if err != nil {
							return fmt.Errorf("repair ward %s: %w", d.WardID, err)
						}
						fmt.Printf("Repaired %s: occupancy %d\n", w.Name, w.CurrentOccupancy)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().Bool("repair", false, "Rewrite drifted ward counters from live bed counts")
	cmd.Flags().String("tenant", "", "Tenant to reconcile (defaults to DEFAULT_TENANT)")
	return cmd
}
