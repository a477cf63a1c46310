// Package logs exposes info, warning and error loggers.
package logs

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	// Info is a logger at the 'info' logging level.
	Info *log.Logger
	// Warn is a logger at the 'warning' logging level.
	Warn *log.Logger
	// Err is a logger at the 'error' logging level.
	Err *log.Logger
)

func parseFlags(logFlags string) int {
	flags := 0
	for _, v := range strings.Split(logFlags, ",") {
		switch strings.TrimSpace(v) {
		case "date":
			flags |= log.Ldate
		case "time":
			flags |= log.Ltime
		case "microseconds":
			flags |= log.Lmicroseconds
		case "longfile":
			flags |= log.Llongfile
		case "shortfile":
			flags |= log.Lshortfile
		case "UTC":
			flags |= log.LUTC
		case "msgprefix":
			flags |= log.Lmsgprefix
		case "stdFlags":
			flags |= log.LstdFlags
		default:
			// Unknown flags are ignored.
		}
	}
	if flags == 0 {
		flags = log.LstdFlags
	}
	return flags
}

// Init initializes info, warning and error loggers given the flags and the output.
// logFlags is a comma-separated list of log.L* names, e.g. "date,time,shortfile".
func Init(output io.Writer, logFlags string) {
	flags := parseFlags(logFlags)
	Info = log.New(output, "I", flags)
	Warn = log.New(output, "W", flags)
	Err = log.New(output, "E", flags)
}

func init() {
	// Usable defaults until the application calls Init.
	Init(os.Stderr, "stdFlags")
}
