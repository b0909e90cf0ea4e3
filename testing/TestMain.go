// Package testing flips the gateway into test mode when blank-imported by test packages.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

var testDefaults = map[string]string{
	"IRGATEWAY_TEST_MODE":     "1",
	"JWT_SECRET":              "test-secret-with-enough-entropy-000",
	"UPSTREAM_BASE_URL":       "http://127.0.0.1:0/server/api/",
	"UPSTREAM_ADMIN_USER":     "admin@test.local",
	"UPSTREAM_ADMIN_PASSWORD": "admin",
}

func ensureTestMode() {
	once.Do(func() {
		for key, value := range testDefaults {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be re-exported by packages that want the defaults before flag parsing.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
