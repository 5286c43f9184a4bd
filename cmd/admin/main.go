package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"entity-admin/internal/app"
	"entity-admin/internal/core/config"
	"entity-admin/internal/core/database"
	"entity-admin/internal/core/logger"
	"entity-admin/internal/csvimport"
	"entity-admin/internal/domain"
	"entity-admin/internal/transport/http/ez"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
}

// open 读配置、建 logger 与依赖；返回的 close 负责全部释放
func (c *cli) open() (*app.App, func(), error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, _, cleanup := logger.New(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	a, err := app.New(cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
		cleanup()
	}, nil
}

func newRootCmd() *cobra.Command {
	c := &cli{configPath: os.Getenv("CONFIG_PATH")}

	root := &cobra.Command{
		Use:           "entity-admin",
		Short:         "Operator CLI for the entity admin backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", c.configPath, "config file (env CONFIG_PATH)")

	root.AddCommand(c.migrateCmd(), c.importCmd(), c.exportCmd(), c.createUserCmd())
	return root
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := database.Migrate(a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import users from a CSV file (rows with a known email or username are skipped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()

			// 不走 FromFile：那条路径会删除源文件
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := a.Pipeline.FromReader(cmd.Context(), f)
			if err != nil {
				return err
			}
			dtos, err := csvimport.Decode[domain.CreateUserDTO](rows)
			if err != nil {
				return err
			}
			res, err := a.Users.Import(cmd.Context(), dtos)
			if err != nil {
				return err
			}
			if _, err := a.Cache.Purge(cmd.Context()); err != nil {
				a.Log.Warn("cache: purge failed", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created=%d skipped=%d\n", res.CreatedCount, res.SkippedCount)
			return nil
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all users as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()
			text, err := a.Users.Export(cmd.Context())
			if err != nil {
				if errors.Is(err, domain.ErrExportEmpty) {
					fmt.Fprintln(cmd.ErrOrStderr(), domain.Message(err))
				}
				return err
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			return os.WriteFile(out, []byte(text), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) createUserCmd() *cobra.Command {
	var in domain.CreateUserDTO
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user with a hashed password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(in.Name) < 4 || len(in.Username) < 4 {
				return fmt.Errorf("name and username must be at least 4 characters")
			}
			if !ez.StrongPassword(in.Password) {
				return fmt.Errorf("password must be at least 8 characters with upper, lower, digit and special characters")
			}
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()
			u, err := a.Users.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Username, u.UUID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Username, "username", "", "username")
	f.StringVar(&in.Email, "email", "", "e-mail")
	f.StringVar(&in.Password, "password", "", "plain password")
	for _, n := range []string{"name", "username", "email", "password"} {
		_ = cmd.MarkFlagRequired(n)
	}
	return cmd
}
