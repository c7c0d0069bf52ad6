package client

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// HWIDEnvVar overrides the computed hardware id.
const HWIDEnvVar = "KEYGATE_HWID"

// hostInfo is replaced in tests.
var hostInfo = host.Info

// Fingerprint returns a stable hardware id for this machine: a SHA-256 over
// the host id, hostname, OS and architecture. KEYGATE_HWID takes precedence.
func Fingerprint() (string, error) {
	if v := strings.TrimSpace(os.Getenv(HWIDEnvVar)); v != "" {
		return v, nil
	}

	info, err := hostInfo()
	if err != nil {
		return "", fmt.Errorf("read host info: %w", err)
	}

	parts := []string{info.HostID, info.Hostname, runtime.GOOS, runtime.GOARCH}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
