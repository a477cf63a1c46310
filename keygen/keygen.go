// Command keygen generates signing keys and mints or validates access tokens.
//
//	keygen -keysize 32                      print a random base64-encoded key
//	keygen -key <key> -uid <user id>        mint an access token for the user
//	keygen -key <key> -validate <token>     check the token and print its content
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bazaarline/chat/server/auth"
	_ "github.com/bazaarline/chat/server/auth/token"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
)

func main() {
	var keySize = flag.Int("keysize", 0, "Generate a random key of this many bytes, e.g. 32 for token signing, 16 for uid_key")
	var key = flag.String("key", "", "Base64-encoded token signing key, as in auth_config.token.key")
	var uid = flag.String("uid", "", "ID of the user to issue a token for")
	var level = flag.String("level", "auth", "Authentication level of the token: auth or root")
	var serial = flag.Int("serial", 1, "Serial number of the token, as in auth_config.token.serial_num")
	var expire = flag.Int("expire", 86400, "Token lifetime in seconds")
	var token = flag.String("validate", "", "Token to validate")

	flag.Parse()

	var code int
	switch {
	case *keySize > 0:
		code = genKey(*keySize, os.Stdout)
	case *uid != "":
		code = mintToken(*key, *serial, *expire, *uid, *level, os.Stdout)
	case *token != "":
		code = validate(*key, *serial, *token, os.Stdout)
	default:
		flag.Usage()
		code = 1
	}
	os.Exit(code)
}

func genKey(size int, out io.Writer) int {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to generate key:", err)
		return 1
	}
	fmt.Fprintln(out, base64.StdEncoding.EncodeToString(buf))
	return 0
}

// Initializes the token authenticator the same way the server does.
func tokenHandler(key string, serial, expire int) (auth.AuthHandler, error) {
	conf, _ := json.Marshal(map[string]any{
		"key":        key,
		"serial_num": serial,
		"expire_in":  expire,
	})
	hdl := store.GetAuthHandler("token")
	if !hdl.IsInitialized() {
		if err := hdl.Init(conf, "token"); err != nil {
			return nil, err
		}
	}
	return hdl, nil
}

func mintToken(key string, serial, expire int, userId, level string, out io.Writer) int {
	uid := types.ParseUid(userId)
	if uid.IsZero() {
		fmt.Fprintln(os.Stderr, "Invalid user ID", userId)
		return 1
	}
	lvl := auth.ParseAuthLevel(level)
	if lvl < auth.LevelAuth {
		fmt.Fprintln(os.Stderr, "Invalid authentication level", level)
		return 1
	}

	hdl, err := tokenHandler(key, serial, expire)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	secret, expires, err := hdl.GenSecret(&auth.Rec{Uid: uid, AuthLevel: lvl})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to generate token:", err)
		return 1
	}
	fmt.Fprintf(out, "Token for %s (%s), expires %s:\n%s\n", uid, lvl, expires.Format("2006-01-02T15:04:05Z07:00"), secret)
	return 0
}

func validate(key string, serial int, token string, out io.Writer) int {
	// Lifetime is irrelevant for validation.
	hdl, err := tokenHandler(key, serial, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	rec, err := hdl.Authenticate([]byte(token))
	if err != nil {
		fmt.Fprintln(out, "INVALID:", err)
		return 1
	}
	fmt.Fprintf(out, "Valid: user %s, level %s, expires in %ss\n", rec.Uid, rec.AuthLevel,
		strconv.Itoa(int(rec.Lifetime.Seconds())))
	return 0
}
