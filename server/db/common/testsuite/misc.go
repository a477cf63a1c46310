package testsuite

import (
	"testing"
	"time"

	adapter "github.com/bazaarline/chat/server/db"
	"github.com/google/go-cmp/cmp"
)

// Databases return timestamps in different locations. Compare instants only.
var timeEqual = cmp.Comparer(func(a, b time.Time) bool {
	return a.Equal(b)
})

func RunDbVersion(t *testing.T, adp adapter.Adapter) {
	t.Helper()

	if err := adp.CheckDbVersion(); err != nil {
		t.Fatal(err)
	}
	vers, err := adp.GetDbVersion()
	if err != nil {
		t.Fatal(err)
	}
	if vers != adp.Version() {
		t.Errorf("DB version mismatch: got %d, want %d", vers, adp.Version())
	}
	if err := adp.Ping(); err != nil {
		t.Error("Ping failed:", err)
	}
}
