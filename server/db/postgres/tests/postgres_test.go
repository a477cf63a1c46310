// Integration tests of the PostgreSQL adapter. They need a running database server
// and a ./test.conf file (or -config flag) with the connection settings:
//
//	{
//		"reset_db_data": true,
//		"adapters": { "postgres": { ... } }
//	}
//
// The tests are skipped when the config file is missing.

package tests

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"testing"

	adapter "github.com/bazaarline/chat/server/db"
	"github.com/bazaarline/chat/server/db/common/test_data"
	"github.com/bazaarline/chat/server/db/common/testsuite"
	backend "github.com/bazaarline/chat/server/db/postgres"
	"github.com/bazaarline/chat/server/logs"
	jcr "github.com/tinode/jsonco"
)

type configType struct {
	// If Reset=true test will recreate database every time it runs
	Reset bool `json:"reset_db_data"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

var config configType
var adp adapter.Adapter
var testData *test_data.TestData

var conffile = flag.String("config", "./test.conf", "config of the database connection")

func TestCreateDb(t *testing.T) {
	if err := adp.CreateDb(config.Reset); err != nil {
		t.Fatal(err)
	}
	testsuite.RunDbVersion(t, adp)
}

func TestUserCreate(t *testing.T) {
	testsuite.RunUserCreate(t, adp, testData)
}

func TestUserGet(t *testing.T) {
	testsuite.RunUserGet(t, adp, testData)
}

func TestConvGetOrCreate(t *testing.T) {
	testsuite.RunConvGetOrCreate(t, adp, testData)
}

func TestConvGetByUsers(t *testing.T) {
	testsuite.RunConvGetByUsers(t, adp, testData)
}

func TestConvGet(t *testing.T) {
	testsuite.RunConvGet(t, adp, testData)
}

func TestMessageSave(t *testing.T) {
	testsuite.RunMessageSave(t, adp, testData)
}

func TestMessageGetAll(t *testing.T) {
	testsuite.RunMessageGetAll(t, adp, testData)
}

func TestConvsForUser(t *testing.T) {
	testsuite.RunConvsForUser(t, adp, testData)
}

func TestMain(m *testing.M) {
	flag.Parse()
	logs.Init(os.Stderr, "stdFlags")

	file, err := os.Open(*conffile)
	if err != nil {
		fmt.Println("Skipping PostgreSQL adapter tests:", err)
		os.Exit(0)
	}
	err = json.NewDecoder(jcr.New(file)).Decode(&config)
	file.Close()
	if err != nil {
		fmt.Println("Failed to parse config file:", err)
		os.Exit(1)
	}

	adp = backend.GetTestAdapter()
	if err = adp.Open(config.Adapters[adp.GetName()]); err != nil {
		fmt.Println("Failed to open adapter:", err)
		os.Exit(1)
	}

	testData = test_data.InitTestData()
	code := m.Run()
	adp.Close()
	os.Exit(code)
}
