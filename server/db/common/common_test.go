package common

import (
	"strings"
	"testing"
	"time"

	"github.com/bazaarline/chat/server/store/types"
)

var baseTime = time.Date(2021, time.June, 1, 1, 11, 0, 0, time.UTC)

func genSummaries() []types.ConversationSummary {
	ids := []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000003",
		"00000000-0000-0000-0000-000000000004",
		"00000000-0000-0000-0000-000000000005",
	}
	hours := []int{3, 1, 5, 3, 2}
	summaries := make([]types.ConversationSummary, len(ids))
	for i := range ids {
		summaries[i] = types.ConversationSummary{
			Id:          types.ParseUid(ids[i]),
			LastUpdated: baseTime.Add(time.Duration(hours[i]) * time.Hour),
		}
	}
	return summaries
}

func getOrder(summaries []types.ConversationSummary) string {
	var order []string
	for i := range summaries {
		id := summaries[i].Id.String()
		order = append(order, id[len(id)-1:])
	}
	return strings.Join(order, ",")
}

func TestSortSummaries(t *testing.T) {
	summaries := SortSummaries(genSummaries(), 0)
	expectedOrder := "3,1,4,5,2"
	if sortOrder := getOrder(summaries); sortOrder != expectedOrder {
		t.Error("Wrong order. Expected:", expectedOrder, "; Got:", sortOrder)
	}

	summaries = SortSummaries(genSummaries(), 2)
	expectedOrder = "3,1"
	if sortOrder := getOrder(summaries); sortOrder != expectedOrder {
		t.Error("Limited sort returned wrong results. Expected:", expectedOrder, "; Got:", sortOrder)
	}
}

func TestQueryLimit(t *testing.T) {
	if l := QueryLimit(nil, 100); l != 100 {
		t.Error("Expected 100, got", l)
	}
	if l := QueryLimit(&types.QueryOpt{Limit: 20}, 100); l != 20 {
		t.Error("Expected 20, got", l)
	}
	if l := QueryLimit(&types.QueryOpt{Limit: 200}, 100); l != 100 {
		t.Error("Limit must be capped at 100, got", l)
	}
	if l := QueryLimit(&types.QueryOpt{Limit: -1}, 100); l != 100 {
		t.Error("Negative limit must be ignored, got", l)
	}
}

func TestQueryBefore(t *testing.T) {
	if !QueryBefore(nil).IsZero() {
		t.Error("Expected zero time for nil options")
	}
	if !QueryBefore(&types.QueryOpt{}).IsZero() {
		t.Error("Expected zero time for missing bound")
	}
	if b := QueryBefore(&types.QueryOpt{Before: &baseTime}); !b.Equal(baseTime) {
		t.Error("Expected", baseTime, "got", b)
	}
}

func TestMessageOrder(t *testing.T) {
	first := types.ParseUid("00000000-0000-0000-0000-000000000001")
	second := types.ParseUid("00000000-0000-0000-0000-000000000002")

	msgs := []types.Message{
		{Id: second, SentAt: baseTime},
		{Id: first, SentAt: baseTime},
		{Id: first, SentAt: baseTime.Add(-time.Second)},
	}
	if !MessageLess(&msgs[2], &msgs[1]) {
		t.Error("Earlier message must sort first")
	}
	if !MessageLess(&msgs[1], &msgs[0]) {
		t.Error("Equal timestamps must be ordered by id")
	}
	if MessageLess(&msgs[0], &msgs[0]) {
		t.Error("Message must not sort before itself")
	}

	reversed := ReverseMessages(msgs)
	if reversed[0].Id != first || !reversed[0].SentAt.Before(baseTime) || reversed[2].Id != second {
		t.Error("Messages were not reversed:", reversed)
	}
	if len(ReverseMessages(nil)) != 0 {
		t.Error("Reversing nil must produce an empty result")
	}
}
