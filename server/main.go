/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

//go:generate mockgen -source=store/store.go -destination=store/mock_store/mock_store.go -package=mock_store

import (
	"encoding/json"
	"expvar"
	"flag"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store"
	jcr "github.com/tinode/jsonco"

	// Authenticators
	_ "github.com/bazaarline/chat/server/auth/token"

	// Database backends
	_ "github.com/bazaarline/chat/server/db/mongodb"
	_ "github.com/bazaarline/chat/server/db/mysql"
	_ "github.com/bazaarline/chat/server/db/postgres"
	_ "github.com/bazaarline/chat/server/db/rethinkdb"
)

const (
	// currentVersion is the current API/protocol version
	currentVersion = "0.1"

	// Default maximum size of an inbound websocket frame, 256KB.
	defaultMaxMessageSize = 1 << 18

	// Default maximum message length in grapheme clusters.
	defaultMaxContentLength = 4096

	// Base URL path for serving the API.
	defaultApiPath = "/v0/"
)

// Build version number defined by the compiler:
//
//	-ldflags "-X main.buildstamp=value_to_assign_to_buildstamp"
//
// For instance, to define the buildstamp as a timestamp of when the server was built add a
// flag to compiler command line:
//
//	-ldflags "-X main.buildstamp=`date -u '+%Y%m%dT%H:%M:%SZ'`"
var buildstamp = "undef"

var globals struct {
	// Live websocket sessions.
	sessionStore *SessionStore
	// Online users and their delivery handles.
	registry *presence.Registry
	// Router of client messages.
	router *Router

	// Channel for publishing stats updates.
	statsUpdate chan *varUpdate

	// Maximum allowed size of an inbound websocket frame.
	maxMessageSize int64
	// Websocket idle timeout.
	idleSessionTimeout time.Duration
	// Enable websocket compression.
	wsCompression bool
	// Use X-Forwarded-For HTTP header as the client IP address.
	useXForwardedFor bool
	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off
	tlsStrictMaxAge string
}

type inboundRateConfig struct {
	// Number of messages per second a session may send, 0 to disable the limit.
	PerSecond float64 `json:"per_second"`
	// Number of messages a session may send in a burst.
	Burst int `json:"burst"`
}

// Contents of the configuration file
type configType struct {
	// HTTP(S) address:port to listen on for websocket and REST clients. If empty, the
	// default is :6060.
	Listen string `json:"listen"`
	// Base URL path where the API is served. Default is "/v0/".
	ApiPath string `json:"api_path"`
	// URL path for exposing runtime stats. Disabled if the path is blank.
	ExpvarPath string `json:"expvar"`
	// URL path for internal server status. Disabled if the path is blank.
	PprofUrl string `json:"pprof_url"`
	// Maximum size of an inbound websocket frame in bytes.
	MaxMessageSize int `json:"max_message_size"`
	// Maximum length of message content in grapheme clusters.
	MaxContentLength int `json:"max_content_length"`
	// Depth of the outbound queue of a session. A session which falls this much
	// behind is disconnected.
	SendQueueLimit int `json:"send_queue_limit"`
	// Websocket idle timeout in seconds.
	IdleSessionTimeout int `json:"idle_session_timeout"`
	// Enable websocket compression.
	WSCompression bool `json:"ws_compression"`
	// Take IP address of the client from HTTP header 'X-Forwarded-For'.
	// Useful when the server is behind a reverse proxy.
	UseXForwardedFor bool `json:"use_x_forwarded_for"`
	// Per-session limit of inbound messages.
	InboundRate *inboundRateConfig `json:"inbound_rate"`

	// Configs for subsystems
	StoreConfig json.RawMessage            `json:"store_config"`
	AuthConfig  map[string]json.RawMessage `json:"auth_config"`
	TLS         json.RawMessage            `json:"tls"`
}

// Reads the config file, expands environment variables and parses the result.
func loadConfig(configfile string) (*configType, error) {
	raw, err := os.ReadFile(configfile)
	if err != nil {
		return nil, err
	}

	config := &configType{}
	jr := jcr.New(strings.NewReader(os.ExpandEnv(string(raw))))
	if err = json.NewDecoder(jr).Decode(config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			logs.Err.Printf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			logs.Err.Printf("Syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		}
		return nil, err
	}
	return config, nil
}

func main() {
	executable, _ := os.Executable()

	logFlags := flag.String("log_flags", "stdFlags",
		"Comma-separated list of log flags (as defined in https://golang.org/pkg/log/#pkg-constants without the L prefix)")
	configfile := flag.String("config", "chat.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	apiPath := flag.String("api_path", "", "Override the base URL path where API is served.")
	tlsEnabled := flag.Bool("tls_enabled", false, "Override config value for enabling TLS.")
	expvarPath := flag.String("expvar", "", "Override the URL path where runtime stats are exposed. Use '-' to disable.")
	pprofUrl := flag.String("pprof_url", "", "Debugging only! URL path for exposing profiling info. Use '-' to disable.")
	flag.Parse()

	logs.Init(os.Stderr, *logFlags)

	curwd, err := os.Getwd()
	if err != nil {
		logs.Err.Fatal("Couldn't get current working directory: ", err)
	}

	logs.Info.Printf("Server v%s:%s:%s; pid %d; %d process(es)",
		currentVersion, executable, buildstamp,
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	*configfile = toAbsolutePath(curwd, *configfile)
	logs.Info.Printf("Using config from '%s'", *configfile)

	config, err := loadConfig(*configfile)
	if err != nil {
		logs.Err.Fatal("Failed to parse config file: ", err)
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.Listen == "" {
		config.Listen = ":6060"
	}

	// Set up HTTP server. Must use non-default mux because of expvar.
	mux := http.NewServeMux()

	// Exposing values for statistics and monitoring.
	evpath := *expvarPath
	if evpath == "" {
		evpath = config.ExpvarPath
	}
	statsInit(mux, evpath)
	expvar.NewString("Version").Set(currentVersion)

	// Initialize serving debug profiles (optional).
	ppurl := *pprofUrl
	if ppurl == "" {
		ppurl = config.PprofUrl
	}
	servePprof(mux, ppurl)

	var storeConf struct {
		// Snowflake worker ID for session ids.
		WorkerId int `json:"worker_id"`
	}
	if len(config.StoreConfig) > 0 {
		if err := json.Unmarshal(config.StoreConfig, &storeConf); err != nil {
			logs.Err.Fatal("Failed to parse store_config: ", err)
		}
	}

	err = store.Store.Open(storeConf.WorkerId, config.StoreConfig)
	logs.Info.Println("DB adapter", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())
	if err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()
	statsRegisterDbStats(store.Store.DbStats())

	// Initialize authenticators.
	for name, jsconf := range config.AuthConfig {
		authhdl := store.GetAuthHandler(name)
		if authhdl == nil {
			logs.Err.Fatalf("Config provided for an unknown authentication scheme '%s'", name)
		}
		if err := authhdl.Init(jsconf, name); err != nil {
			logs.Err.Fatal("Failed to init auth scheme ", name+": ", err)
		}
	}
	if authhdl := store.GetAuthHandler("token"); authhdl == nil || !authhdl.IsInitialized() {
		logs.Err.Fatal("Token authentication is not configured: missing auth_config.token")
	}

	globals.maxMessageSize = int64(config.MaxMessageSize)
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}
	globals.idleSessionTimeout = time.Second * time.Duration(config.IdleSessionTimeout)
	if globals.idleSessionTimeout <= 0 {
		globals.idleSessionTimeout = defaultIdleSessionTimeout
	}
	globals.wsCompression = config.WSCompression
	globals.useXForwardedFor = config.UseXForwardedFor

	maxContentLength := config.MaxContentLength
	if maxContentLength == 0 {
		maxContentLength = defaultMaxContentLength
	}

	globals.registry = presence.NewRegistry()
	globals.router = NewRouter(globals.registry, maxContentLength)
	globals.sessionStore = NewSessionStore(globals.registry, globals.router, config.SendQueueLimit)
	if config.InboundRate != nil && config.InboundRate.PerSecond > 0 {
		globals.sessionStore.SetInboundRate(config.InboundRate.PerSecond, config.InboundRate.Burst)
	}

	tlsConfig, tlsParams, err := parseTLSConfig(*tlsEnabled, config.TLS)
	if err != nil {
		logs.Err.Fatalln(err)
	}

	if *apiPath != "" {
		config.ApiPath = *apiPath
	}
	if config.ApiPath == "" {
		config.ApiPath = defaultApiPath
	} else {
		config.ApiPath = path.Clean("/"+config.ApiPath) + "/"
	}

	// Handle websocket clients.
	mux.HandleFunc(path.Join(config.ApiPath, "channels"), serveWebSocket)
	// Conversation list, history and health check.
	serveRest(mux, config.ApiPath)
	// Everything else is not found.
	mux.HandleFunc("/", serve404)

	logs.Info.Printf("API served from root URL path '%s'", config.ApiPath)

	if err = listenAndServe(config.Listen, mux, tlsConfig, tlsParams.RedirectHTTP, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}

// Convert relative filepath to absolute.
func toAbsolutePath(base, fname string) string {
	if filepath.IsAbs(fname) {
		return fname
	}
	return filepath.Clean(filepath.Join(base, fname))
}
