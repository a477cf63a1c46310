// Package testsuite contains assertions shared by the integration tests of all adapters.
package testsuite

import (
	"testing"

	adapter "github.com/bazaarline/chat/server/db"
	"github.com/bazaarline/chat/server/db/common/test_data"
	types "github.com/bazaarline/chat/server/store/types"
	"github.com/google/go-cmp/cmp"
)

func RunUserCreate(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for _, user := range td.Users {
		if err := adp.UserCreate(user); err != nil {
			t.Fatal(err)
		}
	}

	if err := adp.UserCreate(td.Users[0]); err != types.ErrDuplicate {
		t.Error("duplicate user: expected ErrDuplicate, got", err)
	}
}

func RunUserGet(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	// Test not found
	got, err := adp.UserGet(types.NewUid())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("user should be nil.")
	}

	for _, want := range td.Users {
		got, err = adp.UserGet(want.Id)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got, timeEqual); diff != "" {
			t.Errorf("User mismatch (-want +got):\n%s", diff)
		}
	}
}
