package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "relay":
		return relayTemplate, nil
	case "minimal":
		return minimalTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const relayTemplate = `bind = ":25565"
backend = "127.0.0.1:25566"
admin_addr = "127.0.0.1:9465"
cors_origins = ["http://localhost:3000"]
max_frame_bytes = 2097151
dial_timeout = "5s"
dial_attempts = 3

[cookie]
request_rate = 5.0
request_burst = 10
handler_timeout = "2s"

# Keep the backend's session cookie under a proxy-owned key.
[[cookie.rules]]
key = "backend:session"
action = "rewrite"
to = "mcrelay:session"
priority = 0

# Never let backends read the proxy's own cookies.
[[cookie.rules]]
key = "mcrelay:*"
action = "respond"
no_data = true
priority = 10
`

const minimalTemplate = `bind = ":25565"
backend = "127.0.0.1:25566"
`
