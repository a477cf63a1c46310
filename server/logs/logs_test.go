package logs

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", log.LstdFlags},
		{"stdFlags", log.LstdFlags},
		{"date,time", log.Ldate | log.Ltime},
		{"shortfile, UTC", log.Lshortfile | log.LUTC},
		{"bogus", log.LstdFlags},
		{"microseconds,msgprefix,longfile", log.Lmicroseconds | log.Lmsgprefix | log.Llongfile},
	}
	for _, c := range cases {
		if got := parseFlags(c.in); got != c.want {
			t.Errorf("parseFlags(%q): expected %d, got %d", c.in, c.want, got)
		}
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "msgprefix")
	Info.Println("one")
	Warn.Println("two")
	Err.Println("three")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	for i, prefix := range []string{"I", "W", "E"} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d: expected prefix %q, got %q", i, prefix, lines[i])
		}
	}
}
