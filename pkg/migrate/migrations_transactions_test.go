package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTransactionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_transactions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"status transaction_status_enum NOT NULL DEFAULT 'pending'",
		"CHECK (amount > 0)",
		"WHERE status = 'pending'",
		"CREATE TABLE IF NOT EXISTS provider_events",
		"DROP TABLE IF EXISTS transactions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestQuotaMigrationEnforcesGrantCeiling(t *testing.T) {
	content := readMigration(t, "*_create_memberships_quotas.sql")

	checks := []string{
		"CONSTRAINT uq_quota_user_benefit_source UNIQUE (user_id, benefit, source_key)",
		"CONSTRAINT chk_quota_within_grant CHECK (used <= granted)",
		"CONSTRAINT uq_membership_grant_txn UNIQUE (transaction_id)",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestActivationsMigrationIsExactlyOnce(t *testing.T) {
	content := readMigration(t, "*_create_activations.sql")

	checks := []string{
		"CONSTRAINT uq_activation_txn UNIQUE (transaction_id)",
		"WHERE status = 'pending'",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q found", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
