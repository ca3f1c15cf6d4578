package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"opd-notify/internal/config"
	"opd-notify/pkg/database"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <migration_file.sql>", os.Args[0])
	}

	migrationFile := os.Args[1]
	sqlContent, err := os.ReadFile(migrationFile)
	if err != nil {
		log.Fatalf("Failed to read migration file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Connected to database: %s\n\n", cfg.Database.Database)

	// 按分号切分逐条执行
	statements := splitStatements(string(sqlContent))
	for i, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Statement %d failed: %v\nSQL: %s", i+1, err, stmt)
		}
	}

	fmt.Printf("Migration applied: %d statements executed\n", len(statements))
}

// splitStatements 按分号把 SQL 文件切分成可执行语句。
// 每段先剥掉整行注释（-- 开头的行），只含注释的段跳过，
// 语句前带注释头的段保留语句本身。
func splitStatements(sqlContent string) []string {
	statements := []string{}
	for _, chunk := range strings.Split(sqlContent, ";") {
		lines := strings.Split(chunk, "\n")
		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			kept = append(kept, line)
		}
		stmt := strings.TrimSpace(strings.Join(kept, "\n"))
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
