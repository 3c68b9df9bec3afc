package storage

import (
	"testing"

	"github.com/ruteri/guardian-recovery/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	t.Run("configurations", func(t *testing.T) {
		storetest.RunConfigurationStoreTests(t, NewMemoryStore())
	})
	t.Run("sessions", func(t *testing.T) {
		storetest.RunSessionStoreTests(t, NewMemoryStore())
	})
	t.Run("ledger", func(t *testing.T) {
		storetest.RunShareLedgerTests(t, NewMemoryStore())
	})
	t.Run("guardian storage", func(t *testing.T) {
		storetest.RunGuardianStorageTests(t, NewMemoryStore())
	})
}
