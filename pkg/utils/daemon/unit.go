package daemon

import (
	"strings"
)

const unitTemplate = `[Unit]
Description=lockbox lock sequencer daemon
After=network.target

[Service]
Type=simple
ExecStart={{exe}} daemon --config {{config}} --daemon-socket {{socket}}
ExecReload=/bin/kill -HUP $MAINPID
KillSignal=SIGTERM
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// RenderUnit returns the systemd unit running exePath as the daemon.
func RenderUnit(exePath, configPath, socketPath string) string {
	return strings.NewReplacer(
		"{{exe}}", exePath,
		"{{config}}", configPath,
		"{{socket}}", socketPath,
	).Replace(unitTemplate)
}
