package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/unimarket/campus-market/internal/logger"
	"go.uber.org/zap"
)

// Usage: migrate [up|down|version|steps N]
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	zapLog, err := logger.New(os.Getenv("APP_ENV") == "development", os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() {
		_ = zapLog.Sync()
	}()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		zapLog.Fatal("DB_URL environment variable is required")
	}

	migrationsPath, err := findMigrationsDir()
	if err != nil {
		zapLog.Fatal("locate migrations", zap.Error(err))
	}

	m, err := migrate.New("file://"+migrationsPath, dbURL)
	if err != nil {
		zapLog.Fatal("open migrations", zap.Error(err))
	}
	defer func() {
		_, _ = m.Close()
	}()

	args := os.Args[1:]
	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}

	if err := run(m, cmd, args); err != nil {
		zapLog.Fatal("migration failed", zap.String("command", cmd), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		zapLog.Fatal("read schema version", zap.Error(err))
	}
	zapLog.Info("migration finished",
		zap.String("command", cmd),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.String("path", migrationsPath),
	)
}

func run(m *migrate.Migrate, cmd string, args []string) error {
	var err error
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		return nil
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps needs a count")
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil || n == 0 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		err = m.Steps(n)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// findMigrationsDir walks up from the working directory and the executable
// looking for a migrations folder.
func findMigrationsDir() (string, error) {
	var candidates []string

	if cwd, err := os.Getwd(); err == nil {
		current := cwd
		for i := 0; i < 6; i++ {
			candidates = append(candidates, filepath.Join(current, "migrations"))
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
