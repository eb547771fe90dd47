package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aferrand/preintake/internal/handler"
	appI18n "github.com/aferrand/preintake/internal/i18n"
	"github.com/aferrand/preintake/internal/model"
	"github.com/aferrand/preintake/internal/store"
	"github.com/aferrand/preintake/internal/store/postgres"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "preintake",
		Short: "Pre-admission questionnaire server",
	}

	serve := serveCmd()
	root.AddCommand(serve, seedCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `preintake --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the questionnaire HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(cmd)
	f.StringP("questionnaire", "q", "", "Seed questionnaire JSON file loaded at startup (optional)")
	f.StringP("lang", "l", "fr", "Patient-facing language (fr, en)")
	addLogFlags(cmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import sections and questions from a questionnaire JSON file",
		RunE:  runSeed,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("questionnaire", "q", "", "Questionnaire JSON file (required)")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("questionnaire")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a finalized submission as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("id", "", "Submission identifier")
	f.String("key", "", "Submission secure key (alternative to --id)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Storage backend (sqlite, postgres)")
	f.String("db", "preintake.db", "SQLite database path")
	f.String("dsn", "", "PostgreSQL connection string (when --db-driver=postgres)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PREINTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("preintake")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/preintake")
	v.AddConfigPath("/etc/preintake")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (store.Store, error) {
	switch strings.ToLower(v.GetString("db-driver")) {
	case "postgres":
		dsn := v.GetString("dsn")
		if dsn == "" {
			return nil, fmt.Errorf("--dsn is required with --db-driver=postgres")
		}
		return postgres.Open(dsn)
	case "sqlite", "":
		return store.Open(v.GetString("db"))
	default:
		return nil, fmt.Errorf("unknown db driver %q", v.GetString("db-driver"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if path := v.GetString("questionnaire"); path != "" {
		if err := loadQuestionnaire(cmd.Context(), db, path); err != nil {
			return fmt.Errorf("load questionnaire: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(db)
	defer h.Shutdown()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"driver", v.GetString("db-driver"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return loadQuestionnaire(cmd.Context(), db, v.GetString("questionnaire"))
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	var sub model.Submission
	switch {
	case v.GetString("id") != "":
		sub, err = db.Submission(ctx, v.GetString("id"))
	case v.GetString("key") != "":
		sub, err = db.SubmissionByKey(ctx, v.GetString("key"))
	default:
		return fmt.Errorf("either --id or --key is required")
	}
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}

	snapshot, err := db.Snapshot(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	export := struct {
		Submission model.Submission      `json:"submission"`
		Snapshot   []model.SnapshotEntry `json:"snapshot"`
	}{Submission: sub, Snapshot: snapshot}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadQuestionnaire imports a seed file once per content hash. A changed
// file is skipped rather than re-imported, since existing answers
// reference question ids from the first import.
func loadQuestionnaire(ctx context.Context, db store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.ImportedFileHash(ctx, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}

	if storedHash == hash {
		slog.Info("questionnaire file unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		slog.Warn("questionnaire file changed since last import, skipping to avoid orphaning existing answers",
			"path", path)
		return nil
	}

	var imp model.QuestionnaireImport
	if err := json.Unmarshal(data, &imp); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for _, sec := range imp.Sections {
		if _, err := db.InsertSection(ctx, sec); err != nil {
			return fmt.Errorf("insert section %q from %s: %w", sec.Name, path, err)
		}
	}
	for _, q := range imp.Questions {
		if _, err := db.InsertQuestion(ctx, q); err != nil {
			return fmt.Errorf("insert question %d from %s: %w", q.ID, path, err)
		}
	}

	if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported questionnaire", "path", path,
		"sections", len(imp.Sections), "questions", len(imp.Questions))
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
