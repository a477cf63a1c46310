// Package test_data holds the fixtures shared by adapter test suites.
package test_data

import (
	"time"

	"github.com/bazaarline/chat/server/store/types"
)

type TestData struct {
	Users []*types.User
	// Convs[0] is between Users[0] and Users[1], Convs[1] is between Users[0] and Users[2].
	Convs []*types.Conversation
	// Messages of Convs[0] in the order they were sent, followed by one message of Convs[1].
	Msgs []*types.Message
	Now  time.Time
}

func strPtr(s string) *string {
	return &s
}

func initUsers(now time.Time) []*types.User {
	users := []*types.User{
		{Id: types.ParseUid("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed"), Name: strPtr("Alice")},
		{Id: types.ParseUid("6ec0bd7f-11c0-43da-975e-2a8ad9ebae0b"), Name: strPtr("Bob")},
		// Carol did not set a display name.
		{Id: types.ParseUid("a8098c1a-f86e-41d6-9dd0-dc1a9e4f6c3e")},
	}
	for i, user := range users {
		user.CreatedAt = now.Add(-time.Duration(len(users)-i) * time.Hour)
	}
	return users
}

func initConvs(users []*types.User, now time.Time) []*types.Conversation {
	newConv := func(id string, u1, u2 types.Uid, createdAt time.Time) *types.Conversation {
		u1, u2 = types.OrderPair(u1, u2)
		return &types.Conversation{
			Id:          types.ParseUid(id),
			CreatedAt:   createdAt,
			User1:       u1,
			User2:       u2,
			LastUpdated: createdAt,
		}
	}
	return []*types.Conversation{
		newConv("0a6a6f51-7a1e-4f4e-8b1a-27c1d1c0e001", users[0].Id, users[1].Id, now.Add(-30*time.Minute)),
		newConv("0a6a6f51-7a1e-4f4e-8b1a-27c1d1c0e002", users[2].Id, users[0].Id, now.Add(-20*time.Minute)),
	}
}

func initMessages(users []*types.User, convs []*types.Conversation, now time.Time) []*types.Message {
	newMsg := func(id string, conv *types.Conversation, from *types.User, content string, sentAt time.Time) *types.Message {
		return &types.Message{
			Id:       types.ParseUid(id),
			ConvId:   conv.Id,
			SenderId: from.Id,
			Content:  content,
			SentAt:   sentAt,
		}
	}
	return []*types.Message{
		newMsg("018f0000-0000-7000-8000-000000000001", convs[0], users[0], "hi", now.Add(-25*time.Minute)),
		newMsg("018f0000-0000-7000-8000-000000000002", convs[0], users[1], "hello", now.Add(-24*time.Minute)),
		newMsg("018f0000-0000-7000-8000-000000000003", convs[0], users[0], "how are you?", now.Add(-23*time.Minute)),
		newMsg("018f0000-0000-7000-8000-000000000004", convs[0], users[1], "fine", now.Add(-22*time.Minute)),
		newMsg("018f0000-0000-7000-8000-000000000005", convs[1], users[2], "hey alice", now.Add(-5*time.Minute)),
	}
}

// InitTestData creates fresh fixtures with timestamps relative to the current time.
func InitTestData() *TestData {
	now := types.TimeNow()
	users := initUsers(now)
	convs := initConvs(users, now)
	return &TestData{
		Users: users,
		Convs: convs,
		Msgs:  initMessages(users, convs, now),
		Now:   now,
	}
}
