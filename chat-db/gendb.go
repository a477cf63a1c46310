package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
)

/*
User object in data.json

	"createdAt": "-140h",
	"username": "alice",
	"name": "Alice Johnson"
*/
type User struct {
	CreatedAt string `json:"createdAt"`
	Username  string `json:"username"`
	Name      string `json:"name"`
}

/*
Conversation object in data.json

	"users": ["alice", "bob"],
	"messages": 6
*/
type Conversation struct {
	Users [2]string `json:"users"`
	// Number of sample messages to add. Zero means one of each.
	Messages int `json:"messages"`
}

// Data is the content of data.json.
type Data struct {
	Users         []User         `json:"users"`
	Conversations []Conversation `json:"conversations"`
	Messages      []string       `json:"messages"`
}

func loadData(fname string) (*Data, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	var data Data
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// genDb creates sample users, conversations and messages. Generated IDs are written to out
// one per line:
//
//	usr;<username>;<user id>[;<access token>]
//	conv;<username>:<username>;<conversation id>
func genDb(data *Data, out io.Writer) error {
	if len(data.Users) == 0 {
		log.Println("No data provided, stopping")
		return nil
	}

	// Mint tokens only if the token authenticator was configured.
	var tokens auth.AuthHandler
	if hdl := store.GetAuthHandler("token"); hdl != nil && hdl.IsInitialized() {
		tokens = hdl
	}

	nameIndex := make(map[string]types.Uid, len(data.Users))

	log.Println("Generating users...")

	for _, uu := range data.Users {
		if uu.Username == "" {
			return errors.New("user without a username")
		}
		if _, dup := nameIndex[uu.Username]; dup {
			return errors.New("duplicate username " + uu.Username)
		}

		created, err := getCreatedTime(uu.CreatedAt)
		if err != nil {
			return err
		}
		user := &types.User{CreatedAt: created}
		if uu.Name != "" {
			name := uu.Name
			user.Name = &name
		}

		user, err = store.Users.Create(user)
		if err != nil {
			return fmt.Errorf("failed to create user %s: %w", uu.Username, err)
		}
		nameIndex[uu.Username] = user.Id

		line := "usr;" + uu.Username + ";" + user.Id.String()
		if tokens != nil {
			secret, _, err := tokens.GenSecret(&auth.Rec{Uid: user.Id, AuthLevel: auth.LevelAuth})
			if err != nil {
				return fmt.Errorf("failed to generate token for %s: %w", uu.Username, err)
			}
			line += ";" + string(secret)
		}
		fmt.Fprintln(out, line)
	}

	log.Println("Generating conversations...")

	for _, cc := range data.Conversations {
		var uids [2]types.Uid
		for i, name := range cc.Users {
			uid, ok := nameIndex[name]
			if !ok {
				return errors.New("conversation with unknown user '" + name + "'")
			}
			uids[i] = uid
		}

		conv, err := store.Conversations.GetOrCreate(uids[0], uids[1])
		if err != nil {
			return fmt.Errorf("failed to create conversation %s:%s: %w", cc.Users[0], cc.Users[1], err)
		}

		count := cc.Messages
		if count <= 0 {
			count = len(data.Messages)
		}
		if len(data.Messages) == 0 {
			count = 0
		}
		// Participants take turns, the first user starts.
		for i := 0; i < count; i++ {
			content := data.Messages[i%len(data.Messages)]
			if _, err := store.Messages.Save(conv.Id, uids[i%2], content); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}

		fmt.Fprintln(out, "conv;"+cc.Users[0]+":"+cc.Users[1]+";"+conv.Id.String())
	}

	log.Println("All done.")
	return nil
}

// Go json cannot unmarshal Duration from a string, thus this hack.
func getCreatedTime(delta string) (time.Time, error) {
	var dd time.Duration
	if delta != "" {
		var err error
		if dd, err = time.ParseDuration(delta); err != nil {
			return time.Time{}, errors.New("invalid duration string " + delta)
		}
	}
	return types.TimeNow().Add(dd), nil
}
