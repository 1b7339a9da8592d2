package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/app"
	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/output"
	"github.com/engram-kernel/engram/internal/store"
)

// DB is an alias so command code doesn't need to import database/sql.
type DB = sql.DB

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// openKernel opens the database and wires a Kernel against it, resolving
// the embedder/generator from environment configuration. A missing
// ENGRAM_EMBEDDER_URL still returns a usable kernel: operations that don't
// touch the embedder (commit review, digests, handoff) keep working.
func openKernel() (*kernel.Kernel, func(), error) {
	db, closeDB, err := openDB()
	if err != nil {
		return nil, nil, err
	}

	embedder := resolveEmbedder()
	generator := resolveGenerator()
	return kernel.New(db, embedder, generator), closeDB, nil
}

func resolveEmbedder() llm.Embedder {
	url := os.Getenv("ENGRAM_EMBEDDER_URL")
	if url == "" {
		return nil
	}
	model := os.Getenv("ENGRAM_EMBEDDER_MODEL")
	if model == "" {
		model = "text-embedding-nomic-embed-text-v1.5"
	}
	return llm.NewHTTPEmbedder(url, model, 768)
}

func resolveGenerator() llm.Generator {
	runner, err := llm.NewCLIRunner(os.Getenv("ENGRAM_AGENT"))
	if err != nil {
		return nil
	}
	return runner
}

func withDB(fn func(db *DB) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()
	if err := fn(db); err != nil {
		return cmdErr(err)
	}
	return nil
}

func withKernel(fn func(k *kernel.Kernel) error) error {
	k, closeDB, err := openKernel()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()
	if err := fn(k); err != nil {
		return cmdErr(err)
	}
	return nil
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("command error", "error", err.Error())
	_ = output.PrintError(err)
	return printedError{err: err}
}

// resolveUser resolves the owning user from a per-command flag, the global
// --user flag, or $ENGRAM_USER, in that precedence order.
func resolveUser(cmd *cobra.Command) (string, error) {
	if v, err := cmd.Flags().GetString("user"); err == nil && v != "" {
		return v, nil
	}
	if v := os.Getenv("ENGRAM_USER"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("--user or ENGRAM_USER is required")
}

func resolveAgent(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("agent"); err == nil && v != "" {
		return v
	}
	return os.Getenv("ENGRAM_AGENT")
}

func resolveToken(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("token"); err == nil && v != "" {
		return v
	}
	return os.Getenv("ENGRAM_TOKEN")
}
