package testsuite

import (
	"testing"
	"time"

	adapter "github.com/bazaarline/chat/server/db"
	"github.com/bazaarline/chat/server/db/common/test_data"
	types "github.com/bazaarline/chat/server/store/types"
	"github.com/google/go-cmp/cmp"
)

func RunMessageSave(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for _, msg := range td.Msgs {
		if err := adp.MessageSave(msg); err != nil {
			t.Fatal(err)
		}
	}

	// Last update time of the conversation follows its latest message.
	conv, err := adp.ConvGet(td.Convs[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if want := td.Msgs[3].SentAt; !conv.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated mismatch: got %v, want %v", conv.LastUpdated, want)
	}

	// A rejected message leaves the conversation untouched.
	dupe := *td.Msgs[0]
	dupe.SentAt = td.Now.Add(time.Hour)
	if err := adp.MessageSave(&dupe); err != types.ErrDuplicate {
		t.Error("Duplicate message: expected ErrDuplicate, got", err)
	}
	conv, err = adp.ConvGet(td.Convs[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if want := td.Msgs[3].SentAt; !conv.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated changed by a failed save: got %v, want %v", conv.LastUpdated, want)
	}

	orphan := &types.Message{
		Id:       types.NewOrderedUid(),
		ConvId:   types.NewUid(),
		SenderId: td.Users[0].Id,
		Content:  "nobody home",
		SentAt:   td.Now,
	}
	if err := adp.MessageSave(orphan); err != types.ErrConversationNotFound {
		t.Error("Message to missing conversation: expected ErrConversationNotFound, got", err)
	}
}

func RunMessageGetAll(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	var want []types.Message
	for _, msg := range td.Msgs[:4] {
		want = append(want, *msg)
	}

	got, err := adp.MessageGetAll(td.Convs[0].Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, timeEqual); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}

	// The most recent two, still oldest first.
	got, err = adp.MessageGetAll(td.Convs[0].Id, &types.QueryOpt{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[2:], got, timeEqual); diff != "" {
		t.Errorf("Limited messages mismatch (-want +got):\n%s", diff)
	}

	before := want[2].SentAt
	got, err = adp.MessageGetAll(td.Convs[0].Id, &types.QueryOpt{Before: &before})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:2], got, timeEqual); diff != "" {
		t.Errorf("Paginated messages mismatch (-want +got):\n%s", diff)
	}

	future := td.Now.Add(time.Hour)
	got, err = adp.MessageGetAll(types.NewUid(), &types.QueryOpt{Before: &future})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no messages, got %d", len(got))
	}
}
