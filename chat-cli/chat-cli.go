// Command chat-cli is a minimal terminal client: every line read from stdin is sent to
// the user given by --to, every message received from the server is printed to stdout.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bazaarline/chat/server/logs"
	"github.com/gorilla/websocket"
)

var (
	logFlags = flag.String("log_flags", "stdFlags", "comma-separated list of log flags")
	host     = flag.String("host", "localhost:6060", "address of the chat server")
	apiPath  = flag.String("api_path", "/v0/", "base URL path of the API")
	secure   = flag.Bool("tls", false, "connect using wss://")
	token    = flag.String("token", "", "access token, see keygen --uid")
	to       = flag.String("to", "", "ID of the user to send messages to")
	verbose  = flag.Bool("verbose", false, "print raw JSON of all received frames")
)

func main() {
	flag.Parse()
	logs.Init(os.Stderr, *logFlags)

	if *token == "" {
		logs.Err.Fatal("--token must be provided")
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.DefaultDialer.Dial(channelURL(*host, *apiPath, *secure), hdr)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			logs.Err.Fatalf("failed to connect: %v %s", resp.Status, body)
		}
		logs.Err.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	logs.Info.Println("connected to", *host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := printFrames(conn, os.Stdout, *verbose); err != nil {
			logs.Info.Println("disconnected:", err)
		}
	}()

	if *to != "" {
		if err := sendLines(conn, os.Stdin, *to); err != nil {
			logs.Err.Println("failed to send:", err)
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
	<-done
}

func channelURL(host, apiPath string, secure bool) string {
	u := url.URL{Scheme: "ws", Host: host, Path: path.Join("/", apiPath, "channels")}
	if secure {
		u.Scheme = "wss"
	}
	return u.String()
}

// Sends each non-empty line of input as a message to the receiver.
func sendLines(conn *websocket.Conn, in io.Reader, receiver string) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, _ := json.Marshal(map[string]string{"receiver_id": receiver, "content": line})
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Prints received frames until the connection is closed.
func printFrames(conn *websocket.Conn, out io.Writer, raw bool) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if raw {
			fmt.Fprintln(out, string(msg))
			continue
		}
		fmt.Fprintln(out, formatFrame(msg))
	}
}

type frame struct {
	Type       string    `json:"type"`
	SenderId   string    `json:"sender_id"`
	SenderName *string   `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
	Message    string    `json:"message"`
}

func formatFrame(raw []byte) string {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "?? " + string(raw)
	}
	switch f.Type {
	case "message":
		from := f.SenderId
		if f.SenderName != nil {
			from = *f.SenderName
		}
		return "[" + f.SentAt.Local().Format(time.TimeOnly) + "] " + from + ": " + f.Content
	case "error":
		return "!! " + f.Message
	default:
		return "?? " + string(raw)
	}
}
