package commands

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/panels"
)

// Args is the argument record shared by every command. Each command reads
// the fields it needs.
type Args struct {
	AccountID   string `json:"account_id"`
	FolderPath  string `json:"folder_path"`
	UID         uint32 `json:"uid"`
	PanelID     string `json:"panel_id"`
	NewTab      bool   `json:"new_tab"`
	Offset      int    `json:"offset"`
	Destination string `json:"destination"`
	Filename    string `json:"filename"`
	SaveTo      string `json:"save_to"`
	DisplayMode string `json:"display_mode"`

	// send_email; address lists are comma separated
	To          string   `json:"to"`
	Cc          string   `json:"cc"`
	Bcc         string   `json:"bcc"`
	Subject     string   `json:"subject"`
	BodyText    string   `json:"body_text"`
	BodyHTML    string   `json:"body_html"`
	ReplyTo     string   `json:"reply_to"`
	InReplyTo   string   `json:"in_reply_to"`
	References  string   `json:"references"`
	Attachments []string `json:"attachments"`
}

// DecodeArgs parses a JSON argument object. Empty input yields zero Args.
func DecodeArgs(raw []byte) (Args, error) {
	var args Args
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, email.Validationf("invalid arguments: %v", err)
	}
	return args, nil
}

// Key returns the panel key the arguments name
func (a Args) Key() panels.Key {
	return panels.Key{AccountID: a.AccountID, FolderPath: a.FolderPath, UID: a.UID}
}

// require checks that the named fields are set
func (a Args) require(fields ...string) error {
	var missing []string
	for _, f := range fields {
		if !a.has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return email.Validationf("missing required arguments: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (a Args) has(field string) bool {
	switch field {
	case "account_id":
		return a.AccountID != ""
	case "folder_path":
		return a.FolderPath != ""
	case "uid":
		return a.UID != 0
	case "panel_id":
		return a.PanelID != ""
	case "destination":
		return a.Destination != ""
	case "filename":
		return a.Filename != ""
	case "save_to":
		return a.SaveTo != ""
	case "display_mode":
		return a.DisplayMode != ""
	case "to":
		return strings.TrimSpace(a.To) != ""
	case "subject":
		return a.Subject != ""
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
