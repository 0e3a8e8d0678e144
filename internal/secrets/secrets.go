// Package secrets brokers credentials to skills at execution time.
//
// The model never sees raw secret values: skills fetch them inside Execute,
// never during validation or registration, so credentials cannot leak into
// prompt text. Values are read from the environment on every call, no
// caching, so rotated secrets are picked up without a restart.
package secrets

import (
	"fmt"
	"os"
)

// Notify, when set, is called on every secret access with the key name and
// whether a value was found. The value itself is never passed, so the hook
// can feed audit logging without risking a leak.
var Notify func(key string, found bool)

// Get reads the secret named key from the environment.
func Get(key string) (string, error) {
	value := os.Getenv(key)
	if Notify != nil {
		Notify(key, value != "")
	}
	if value == "" {
		return "", fmt.Errorf("secret %q is not configured; set the %s environment variable", key, key)
	}
	return value, nil
}
