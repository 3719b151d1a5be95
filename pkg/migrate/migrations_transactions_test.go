package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vaultline/treasury-backend/pkg/migrate"
)

func TestTransactionsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_accounts_and_transactions.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no accounts migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE currency_enum AS ENUM",
		"CREATE TYPE transaction_kind_enum AS ENUM",
		"CREATE TYPE transaction_direction_enum AS ENUM",
		"CREATE TYPE transaction_status_enum AS ENUM",
		"CREATE TABLE IF NOT EXISTS accounts",
		"CREATE TABLE IF NOT EXISTS transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_accounts_owner_name_currency",
		"FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE",
		"CHECK (available_cents >= 0)",
		"CHECK (pending_cents >= 0)",
		"CHECK (amount_cents > 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_run_key_active",
		"WHERE run_key IS NOT NULL AND status <> 'failed'",
		"DROP TABLE IF EXISTS transactions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
