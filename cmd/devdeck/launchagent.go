package main

import (
	"html"
	"strings"
	"text/template"
)

const launchAgentLabel = "dev.devdeck.daemon"

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": html.EscapeString,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Binary}}</string>
        <string>daemon</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{xml .LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{xml .LogPath}}</string>
</dict>
</plist>
`))

// launchAgentPlist renders the LaunchAgent that runs "binary daemon" at login.
// The daemon is restarted only when it exits with an error.
func launchAgentPlist(binary, logPath string) (string, error) {
	var b strings.Builder
	err := plistTemplate.Execute(&b, struct {
		Label, Binary, LogPath string
	}{launchAgentLabel, binary, logPath})
	return b.String(), err
}
