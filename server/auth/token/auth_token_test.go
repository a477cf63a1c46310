package token

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/store/types"
)

var testKey = bytes.Repeat([]byte{0x5a}, 32)

func newAuthenticator(t *testing.T, serial int) *authenticator {
	t.Helper()

	conf, _ := json.Marshal(map[string]interface{}{
		"key":        testKey,
		"serial_num": serial,
		"expire_in":  3600,
	})
	ta := &authenticator{}
	if err := ta.Init(conf, "token"); err != nil {
		t.Fatal(err)
	}
	return ta
}

func TestInit(t *testing.T) {
	ta := newAuthenticator(t, 1)
	if !ta.IsInitialized() {
		t.Error("authenticator must be initialized")
	}
	if err := ta.Init(json.RawMessage(`{}`), "again"); err == nil {
		t.Error("second Init must fail")
	}

	cases := []string{
		`{"key":"c2hvcnQ=","expire_in":10}`,
		`{"expire_in":10}`,
		`{"key":"WlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlo=","expire_in":0}`,
		`not json`,
	}
	for _, conf := range cases {
		if err := (&authenticator{}).Init(json.RawMessage(conf), "token"); err == nil {
			t.Errorf("Init(%s) must fail", conf)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ta := newAuthenticator(t, 1)
	uid := types.ParseUid("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")

	secret, expires, err := ta.GenSecret(&auth.Rec{Uid: uid})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Now().Add(time.Hour); expires.Before(want.Add(-time.Minute)) || expires.After(want.Add(time.Minute)) {
		t.Error("unexpected expiration time", expires)
	}

	rec, err := ta.Authenticate(secret)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Uid != uid {
		t.Error("uid mismatch, got", rec.Uid, "expected", uid)
	}
	if rec.AuthLevel != auth.LevelAuth {
		t.Error("default auth level must be", auth.LevelAuth, "got", rec.AuthLevel)
	}
	if !rec.Expires.Equal(expires) {
		t.Error("expiration mismatch", rec.Expires, expires)
	}
}

func TestExpired(t *testing.T) {
	ta := newAuthenticator(t, 1)
	uid := types.ParseUid("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")

	if _, _, err := ta.GenSecret(&auth.Rec{Uid: uid, Lifetime: -time.Second}); err != auth.ErrExpired {
		t.Error("negative lifetime must fail with 'expired', got", err)
	}

	secret, _, err := ta.GenSecret(&auth.Rec{Uid: uid, Lifetime: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2100 * time.Millisecond)
	if _, err := ta.Authenticate(secret); err != auth.ErrExpired {
		t.Error("expected 'expired', got", err)
	}
}

func TestBadSignature(t *testing.T) {
	ta := newAuthenticator(t, 1)
	secret, _, err := ta.GenSecret(&auth.Rec{Uid: types.NewUid()})
	if err != nil {
		t.Fatal(err)
	}

	other := &authenticator{}
	conf, _ := json.Marshal(map[string]interface{}{
		"key":       bytes.Repeat([]byte{0x11}, 32),
		"expire_in": 3600,
	})
	if err := other.Init(conf, "token"); err != nil {
		t.Fatal(err)
	}
	other.serialNumber = 1
	if _, err := other.Authenticate(secret); err != auth.ErrFailed {
		t.Error("expected 'failed' for foreign signature, got", err)
	}

	tampered := append([]byte{}, secret...)
	tampered[len(tampered)-2] ^= 0x01
	if _, err := ta.Authenticate(tampered); err == nil {
		t.Error("tampered token must be rejected")
	}
}

func TestWrongSerial(t *testing.T) {
	ta := newAuthenticator(t, 1)
	secret, _, err := ta.GenSecret(&auth.Rec{Uid: types.NewUid()})
	if err != nil {
		t.Fatal(err)
	}

	ta.serialNumber = 2
	if _, err := ta.Authenticate(secret); err != auth.ErrFailed {
		t.Error("expected 'failed' for revoked serial, got", err)
	}
}

func TestMalformed(t *testing.T) {
	ta := newAuthenticator(t, 1)
	for _, secret := range []string{"", "abc", "a.b.c"} {
		if _, err := ta.Authenticate([]byte(secret)); err != auth.ErrMalformed {
			t.Errorf("Authenticate(%q): expected 'malformed', got %v", secret, err)
		}
	}
	if _, _, err := ta.GenSecret(&auth.Rec{}); err != auth.ErrMalformed {
		t.Error("missing uid must fail with 'malformed', got", err)
	}
}
