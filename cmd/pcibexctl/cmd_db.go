package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/authpw"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/rbac"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

var (
	researcherEmail string
	researcherName  string
	researcherAdmin bool

	exportFormat   string
	exportOut      string
	exportPractice bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var researcherCmd = &cobra.Command{
	Use:   "researcher",
	Short: "Manage researcher accounts",
}

var researcherAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a researcher account",
	Long: `Creates a researcher account. The password is read from
PCIBEX_RESEARCHER_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runResearcherAdd,
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write one submitted session to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	researcherAddCmd.Flags().StringVar(&researcherEmail, "email", "", "account email")
	researcherAddCmd.Flags().StringVar(&researcherName, "name", "", "display name")
	researcherAddCmd.Flags().BoolVar(&researcherAdmin, "admin", false, "grant the admin role")
	_ = researcherAddCmd.MarkFlagRequired("email")
	_ = researcherAddCmd.MarkFlagRequired("name")
	researcherCmd.AddCommand(researcherAddCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv, json or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (defaults to the generated file name)")
	exportCmd.Flags().BoolVar(&exportPractice, "practice", false, "include practice trials in the CSV")

	rootCmd.AddCommand(migrateCmd, researcherCmd, exportCmd)
}

func openDatabase(ctx context.Context) (config.Config, *sql.DB, error) {
	cfg := config.Load()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		return nil
	}
	for _, version := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", version)
	}
	return nil
}

func runResearcherAdd(cmd *cobra.Command, args []string) error {
	password := os.Getenv("PCIBEX_RESEARCHER_PASSWORD")
	if password == "" {
		return errors.New("PCIBEX_RESEARCHER_PASSWORD is not set")
	}
	ctx := cmd.Context()
	_, db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	role := rbac.RoleResearcher
	if researcherAdmin {
		role = rbac.RoleAdmin
	}
	researcher, err := authpw.NewService(store.NewPostgresStore(db)).Register(ctx, authpw.RegisterRequest{
		Email:       researcherEmail,
		Password:    password,
		DisplayName: researcherName,
		Role:        role,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", researcher.Role, researcher.Email, researcher.ID)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(strings.ToLower(exportFormat))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := export.NewService(store.NewPostgresStore(db), cfg.ExportTimeout).Export(ctx, export.Request{
		SessionID:       args[0],
		Format:          format,
		IncludePractice: exportPractice,
	})
	if err != nil {
		return err
	}
	path := exportOut
	if path == "" {
		path = filepath.Clean(result.Filename)
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(result.Data))
	return nil
}
