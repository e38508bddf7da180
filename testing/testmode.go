// Package testing makes tests that load configuration independent of the developer's
// shell. Import it for its side effects:
//
//	import _ "github.com/dairybooth/dairyledger/testing"
package testing

import (
	"os"
	"sync"
)

var once sync.Once

// cleared are settings whose presence changes which components get wired.
var cleared = []string{
	"APP_ENV",
	"APP_MIGRATE",
	"WHATSAPP_ACCESS_TOKEN",
	"WHATSAPP_PHONE_NUMBER_ID",
	"BALANCE_SIGN_CONVENTION",
	"BUSINESS_MONTH_START_DAY",
	"NOTIFY_LEASE_TTL",
}

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("DAIRYLEDGER_TEST_MODE", "1")
		for _, key := range cleared {
			_ = os.Unsetenv(key)
		}
		// Nothing under test may reach the real Cloud API.
		_ = os.Setenv("WHATSAPP_BASE_URL", "http://127.0.0.1:0")
	})
}

func init() {
	ensureTestMode()
}
