package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Diagnostic tool for the snippet database. Prints the snippets schema
// and a per-user row count so a misbehaving deployment can be inspected
// without psql access.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		log.Fatal("DB_HOST is not set; nothing to check")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "postgres"),
		os.Getenv("DB_PASSWORD"),
		envOr("DB_NAME", "coderoom"),
		envOr("DB_SSLMODE", "disable"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_name = 'snippets'
		)
	`
	if err := db.Raw(query).Scan(&exists).Error; err != nil {
		log.Fatal("Failed to check snippets table:", err)
	}

	fmt.Printf("📊 Snippets table exists: %v\n", exists)
	fmt.Println()

	if !exists {
		fmt.Println("Run the server once to auto-migrate the schema.")
		return
	}

	type ColumnInfo struct {
		ColumnName string
		DataType   string
		IsNullable string
	}
	var columns []ColumnInfo
	db.Raw(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = 'snippets'
		ORDER BY ordinal_position
	`).Scan(&columns)

	fmt.Println("Columns:")
	for _, col := range columns {
		fmt.Printf("  %-12s %-20s nullable=%s\n", col.ColumnName, col.DataType, col.IsNullable)
	}
	fmt.Println()

	type UserCount struct {
		UserID string
		Count  int64
	}
	var counts []UserCount
	db.Raw(`
		SELECT user_id, COUNT(*) AS count
		FROM snippets
		GROUP BY user_id
		ORDER BY count DESC
		LIMIT 20
	`).Scan(&counts)

	var total int64
	db.Table("snippets").Count(&total)

	fmt.Printf("Total snippets: %d\n", total)
	for _, uc := range counts {
		fmt.Printf("  %-40s %d\n", uc.UserID, uc.Count)
	}
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
