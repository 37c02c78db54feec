// Package main provides a small CLI that verifies loaded data by printing
// row counts per table and a few sample joins.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/helixir/scopus-ingest/internal/config"
	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/observability"
)

var tables = []string{
	"sources",
	"affiliations",
	"authors",
	"subject_areas",
	"keywords",
	"funding_agencies",
	"papers",
	"paper_authors",
	"paper_author_affiliations",
	"paper_keywords",
	"paper_subject_areas",
	"reference_papers",
	"paper_funding",
	"paper_embeddings",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	samples := flag.Int("samples", 3, "Number of sample rows to print per check")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "warn",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	fmt.Println("Verifying database contents:")
	fmt.Println()
	for _, table := range tables {
		var count int64
		// Table names come from the fixed list above, never from input.
		if err := db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		fmt.Printf("  %-30s %8d rows\n", table, count)
	}

	fmt.Println()
	fmt.Println("Sample papers:")
	rows, err := db.Query(ctx,
		"SELECT paper_id, scopus_id, COALESCE(title, '') FROM papers ORDER BY paper_id LIMIT $1", *samples)
	if err != nil {
		return fmt.Errorf("sample papers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var scopusID, title string
		if err := rows.Scan(&id, &scopusID, &title); err != nil {
			return err
		}
		fmt.Printf("  id=%d scopus=%s title=%s\n", id, scopusID, truncate(title, 60))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Sample author links:")
	authorRows, err := db.Query(ctx, `
		SELECT pa.paper_author_id, p.scopus_id, COALESCE(a.indexed_name, '')
		FROM paper_authors pa
		JOIN papers p ON pa.paper_id = p.paper_id
		JOIN authors a ON pa.author_id = a.author_id
		ORDER BY pa.paper_author_id
		LIMIT $1`, *samples)
	if err != nil {
		return fmt.Errorf("sample author links: %w", err)
	}
	defer authorRows.Close()
	for authorRows.Next() {
		var id int64
		var scopusID, name string
		if err := authorRows.Scan(&id, &scopusID, &name); err != nil {
			return err
		}
		fmt.Printf("  link=%d paper=%s author=%s\n", id, scopusID, name)
	}
	if err := authorRows.Err(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Verification complete.")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
