package registry

import (
	"os"
	"strings"
)

// bootID returns a string that changes across host reboots, used to
// disambiguate PID reuse the way a start-time signature does on a single
// boot. Linux exposes a stable random id per boot at the path below; when it
// is unavailable (non-Linux, containerized sandboxes without /proc) a
// constant is used, which degrades the disambiguation to start-time alone.
func bootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "unknown-boot"
	}
	return strings.TrimSpace(string(data))
}
