package testsuite

import (
	"sync"
	"testing"

	adapter "github.com/bazaarline/chat/server/db"
	"github.com/bazaarline/chat/server/db/common/test_data"
	types "github.com/bazaarline/chat/server/store/types"
	"github.com/google/go-cmp/cmp"
)

func RunConvGetOrCreate(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	want := td.Convs[0]
	got, err := adp.ConvGetOrCreate(want)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, timeEqual); diff != "" {
		t.Errorf("Conversation mismatch (-want +got):\n%s", diff)
	}

	// Second candidate for the same pair, participants in reverse order.
	dupe := &types.Conversation{
		Id:          types.NewUid(),
		CreatedAt:   td.Now,
		User1:       want.User2,
		User2:       want.User1,
		LastUpdated: td.Now,
	}
	got, err = adp.ConvGetOrCreate(dupe)
	if err != nil {
		t.Fatal(err)
	}
	if got.Id != want.Id {
		t.Errorf("Existing conversation must be returned: got %s, want %s", got.Id, want.Id)
	}

	// Concurrent first messages between the same pair.
	want = td.Convs[1]
	ids := make([]types.Uid, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate := *want
			if i > 0 {
				candidate.Id = types.NewUid()
			}
			if i%2 == 1 {
				candidate.User1, candidate.User2 = candidate.User2, candidate.User1
			}
			conv, err := adp.ConvGetOrCreate(&candidate)
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = conv.Id
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Concurrent calls returned different conversations: %s and %s", ids[0], ids[i])
		}
	}
	// Tests below rely on the fixture id.
	if fixtureId := want.Id; ids[0] != fixtureId {
		want.Id = ids[0]
		for _, msg := range td.Msgs {
			if msg.ConvId == fixtureId {
				msg.ConvId = ids[0]
			}
		}
	}
}

func RunConvGetByUsers(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	want := td.Convs[0]
	for _, pair := range [][2]types.Uid{{want.User1, want.User2}, {want.User2, want.User1}} {
		got, err := adp.ConvGetByUsers(pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.Id != want.Id {
			t.Errorf("ConvGetByUsers(%s, %s) = %v, want %s", pair[0], pair[1], got, want.Id)
		}
	}

	// Bob and Carol never talked.
	got, err := adp.ConvGetByUsers(td.Users[1].Id, td.Users[2].Id)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("Conversation should be nil, got", got)
	}
}

func RunConvGet(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	got, err := adp.ConvGet(td.Convs[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("Conversation not found")
	}
	if got.User1.Compare(got.User2) > 0 {
		t.Error("Participants are not in canonical order")
	}

	got, err = adp.ConvGet(types.NewUid())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("Conversation should be nil, got", got)
	}
}

func RunConvsForUser(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	alice := td.Users[0]
	got, err := adp.ConvsForUser(alice.Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 conversations, got %d", len(got))
	}

	// Conversation with Carol has the most recent message.
	last := td.Msgs[len(td.Msgs)-1]
	if got[0].Id != td.Convs[1].Id {
		t.Errorf("Most recently updated conversation must come first: got %s, want %s", got[0].Id, td.Convs[1].Id)
	}
	if got[0].OtherUserId != td.Users[2].Id || got[0].OtherUserName != nil {
		t.Errorf("Other participant mismatch: %s %v", got[0].OtherUserId, got[0].OtherUserName)
	}
	if got[0].LastMessage == nil || *got[0].LastMessage != last.Content {
		t.Errorf("Last message mismatch: %v", got[0].LastMessage)
	}
	if got[0].LastMessageAt == nil || !got[0].LastMessageAt.Equal(last.SentAt) {
		t.Errorf("Last message time mismatch: %v", got[0].LastMessageAt)
	}

	if got[1].OtherUserId != td.Users[1].Id || got[1].OtherUserName == nil || *got[1].OtherUserName != "Bob" {
		t.Errorf("Other participant mismatch: %s %v", got[1].OtherUserId, got[1].OtherUserName)
	}

	limited, err := adp.ConvsForUser(alice.Id, &types.QueryOpt{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Id != got[0].Id {
		t.Errorf("Limited query mismatch: %+v", limited)
	}

	none, err := adp.ConvsForUser(types.NewUid(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no conversations, got %d", len(none))
	}
}
