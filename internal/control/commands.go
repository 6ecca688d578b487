package control

import (
	"fmt"
	"strings"
)

// Commands names the console commands of the match plugin.
type Commands struct {
	RemoteLogURL         string
	RemoteLogHeaderKey   string
	RemoteLogHeaderValue string
	DemoUploadURL        string
	LoadHeaderKey        string
	LoadHeaderValue      string
	LoadMatchURL         string
	EndMatch             string
}

func DefaultCommands() Commands {
	return Commands{
		RemoteLogURL:         "matchzy_remote_log_url",
		RemoteLogHeaderKey:   "matchzy_remote_log_header_key",
		RemoteLogHeaderValue: "matchzy_remote_log_header_value",
		DemoUploadURL:        "matchzy_demo_upload_url",
		LoadHeaderKey:        "matchzy_loadmatch_header_key",
		LoadHeaderValue:      "matchzy_loadmatch_header_value",
		LoadMatchURL:         "matchzy_loadmatch_url",
		EndMatch:             "matchzy_endmatch",
	}
}

// LoadSequence is the ordered set of commands that points a server at one match.
type LoadSequence struct {
	Commands      Commands
	WebhookURL    string
	WebhookHeader string
	WebhookSecret string
	DemoUploadURL string
	ConfigURL     string
	ConfigToken   string
}

const authorizationHeader = "Authorization"

func (l LoadSequence) Webhook() string {
	return join(
		command(l.Commands.RemoteLogURL, l.WebhookURL),
		command(l.Commands.RemoteLogHeaderKey, l.WebhookHeader),
		command(l.Commands.RemoteLogHeaderValue, l.WebhookSecret),
	)
}

func (l LoadSequence) DemoUpload() string {
	return command(l.Commands.DemoUploadURL, l.DemoUploadURL)
}

func (l LoadSequence) ConfigAuth() string {
	return join(
		command(l.Commands.LoadHeaderKey, authorizationHeader),
		command(l.Commands.LoadHeaderValue, l.bearer()),
	)
}

func (l LoadSequence) Load() string {
	return command(l.Commands.LoadMatchURL, l.ConfigURL, authorizationHeader, l.bearer())
}

// Steps returns the four commands in the order they must be sent.
func (l LoadSequence) Steps() []string {
	return []string{l.Webhook(), l.DemoUpload(), l.ConfigAuth(), l.Load()}
}

// Reapply is what a match load resets on the server.
func (l LoadSequence) Reapply() []string {
	return []string{l.Webhook(), l.DemoUpload()}
}

func (l LoadSequence) bearer() string {
	return "Bearer " + l.ConfigToken
}

func command(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		fmt.Fprintf(&b, " %q", a)
	}
	return b.String()
}

func join(cmds ...string) string {
	return strings.Join(cmds, "; ")
}

// failureMarkers are printed by the plugin when it refuses a load even though the
// RCON exchange itself succeeded.
var failureMarkers = []string{
	"GOTV is not active",
	"tv_enable",
	"Failed to load match",
	"Error loading match",
	"Unknown command",
}

// DetectFailure scans a command response for a plugin-level rejection.
func DetectFailure(response string) (string, bool) {
	lower := strings.ToLower(response)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return marker, true
		}
	}
	return "", false
}
