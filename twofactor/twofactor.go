package twofactor

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateCode produces the current time-based one-time code for a shared
// secret. Secrets are accepted with or without the spacing authenticator
// apps display.
func GenerateCode(secret string) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	if normalized == "" {
		return "", fmt.Errorf("empty two factor secret")
	}
	code, err := totp.GenerateCode(normalized, time.Now())
	if err != nil {
		return "", fmt.Errorf("generate one-time code: %w", err)
	}
	return code, nil
}
