package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/manifold-inc/manifold-sdk/lib/eflag"
)

// splitStatements breaks a migration file into executable statements,
// dropping comment lines.
func splitStatements(migrationSQL string) []string {
	var out []string
	for _, stmt := range strings.Split(migrationSQL, ";") {
		var cleanLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "--") && trimmed != "" {
				cleanLines = append(cleanLines, line)
			}
		}
		stmt = strings.TrimSpace(strings.Join(cleanLines, "\n"))
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", "", "MySQL DSN")
	dir := flag.String("migrations-dir", "migrations", "Directory of .sql files, applied in name order")
	if err := eflag.SetFlagsFromEnvironment(); err != nil {
		panic(err)
	}
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "Error: DSN is required")
		os.Exit(1)
	}

	// Explicit files on the command line win over the directory
	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing migrations in %s: %v\n", *dir, err)
			os.Exit(1)
		}
		files = matches
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No migrations found in %s\n", *dir)
		os.Exit(1)
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging database: %v\n", err)
		os.Exit(1)
	}

	for _, path := range files {
		migrationSQL, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading migration file %s: %v\n", path, err)
			os.Exit(1)
		}
		for _, stmt := range splitStatements(string(migrationSQL)) {
			if _, err := db.Exec(stmt); err != nil {
				fmt.Fprintf(os.Stderr, "Error executing statement from %s: %v\n", path, err)
				fmt.Fprintf(os.Stderr, "Statement: %s\n", stmt)
				os.Exit(1)
			}
		}
		fmt.Printf("Applied %s\n", path)
	}

	fmt.Println("Migration completed successfully!")
}
