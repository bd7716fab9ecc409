package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/panels"
	"github.com/brandon/mailview/internal/tree"
)

// PanelResult names the panel a command revealed
type PanelResult struct {
	PanelID string     `json:"panel_id"`
	Key     panels.Key `json:"key"`
}

func panelResult(p *panels.Panel) *PanelResult {
	return &PanelResult{PanelID: p.ID(), Key: p.Key()}
}

// StatusResult is returned by commands with nothing else to report
type StatusResult struct {
	Status string `json:"status"`
}

var statusOK = &StatusResult{Status: "ok"}

// DownloadResult says where an attachment was saved
type DownloadResult struct {
	Path        string `json:"path"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
}

func builtins(d Deps, logger *logrus.Logger) []Command {
	message := []string{"account_id", "folder_path", "uid"}

	return []Command{
		&command{
			name:        "open_folder",
			description: "Show a folder listing, reusing the active panel unless new_tab is set",
			required:    []string{"account_id", "folder_path"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				p, err := d.Panels.OpenFolder(ctx, a.Key(), a.NewTab, a.Offset)
				if p == nil {
					return nil, err
				}
				return panelResult(p), err
			},
		},
		&command{
			name:        "open_message",
			description: "Show a message according to the configured display mode",
			required:    message,
			run: func(ctx context.Context, a Args) (interface{}, error) {
				var from *panels.Panel
				if a.PanelID != "" {
					from, _ = d.Panels.Lookup(a.PanelID)
				}
				p, err := d.Panels.OpenMessage(ctx, a.Key(), from)
				if p == nil {
					return nil, err
				}
				return panelResult(p), err
			},
		},
		&command{
			name:        "back",
			description: "Return a list panel from an embedded message to its listing",
			required:    []string{"panel_id"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				p, found := d.Panels.Lookup(a.PanelID)
				if !found {
					return nil, email.Validationf("unknown panel %s", a.PanelID)
				}
				if err := d.Panels.Back(ctx, p); err != nil {
					return nil, err
				}
				return panelResult(p), nil
			},
		},
		&command{
			name:        "mark_read",
			description: "Mark a message as read",
			required:    message,
			run: func(ctx context.Context, a Args) (interface{}, error) {
				return markSeen(ctx, d, a, true)
			},
		},
		&command{
			name:        "mark_unread",
			description: "Mark a message as unread",
			required:    message,
			run: func(ctx context.Context, a Args) (interface{}, error) {
				return markSeen(ctx, d, a, false)
			},
		},
		&command{
			name:        "delete_message",
			description: "Flag a message as deleted",
			required:    message,
			run: func(ctx context.Context, a Args) (interface{}, error) {
				if err := d.Mail.Delete(ctx, a.AccountID, a.FolderPath, a.UID); err != nil {
					return nil, err
				}
				d.Panels.MessageRemoved(ctx, a.Key())
				return statusOK, nil
			},
		},
		&command{
			name:        "move_message",
			description: "Move a message to another folder",
			required:    append(message, "destination"),
			run: func(ctx context.Context, a Args) (interface{}, error) {
				if err := d.Mail.Move(ctx, a.AccountID, a.FolderPath, a.UID, a.Destination); err != nil {
					return nil, err
				}
				d.Panels.MessageRemoved(ctx, a.Key())
				if err := d.Panels.RefreshFolder(ctx, a.AccountID, a.Destination); err != nil {
					logger.WithError(err).WithField("folder", a.Destination).Warn("Failed to refresh destination folder")
				}
				return statusOK, nil
			},
		},
		&command{
			name:        "download_attachment",
			description: "Save an attachment to save_to, a directory or a file path",
			required:    append(message, "filename", "save_to"),
			run: func(ctx context.Context, a Args) (interface{}, error) {
				return download(ctx, d, a)
			},
		},
		&command{
			name:        "send_email",
			description: "Send an email with text, HTML, attachments, CC and BCC",
			required:    []string{"account_id", "to", "subject"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				msg, err := composeMessage(a)
				if err != nil {
					return nil, err
				}
				if err := d.Mail.Send(ctx, a.AccountID, msg); err != nil {
					return nil, err
				}
				return statusOK, nil
			},
		},
		&command{
			name:        "refresh",
			description: "Reload the folder tree of one account, or of every account",
			run: func(ctx context.Context, a Args) (interface{}, error) {
				var node *tree.Node
				if a.AccountID != "" {
					node = &tree.Node{Kind: tree.NodeAccount, AccountID: a.AccountID}
				}
				d.Tree.Refresh(ctx, node, false)
				return statusOK, nil
			},
		},
		&command{
			name:        "set_display_mode",
			description: "Choose how messages open: window, preview or split",
			required:    []string{"display_mode"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				mode := config.DisplayMode(strings.ToLower(strings.TrimSpace(a.DisplayMode)))
				if err := d.Panels.SetMode(mode); err != nil {
					return nil, err
				}
				logger.WithField("mode", mode).Info("Display mode changed")
				return statusOK, nil
			},
		},
		&command{
			name:        "reconnect",
			description: "Disconnect every account and reload the folder tree",
			run: func(ctx context.Context, a Args) (interface{}, error) {
				d.Tree.ForceReconnect(ctx)
				return statusOK, nil
			},
		},
		&command{
			name:        "test_connection",
			description: "Check an account's server and credentials",
			required:    []string{"account_id"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				if err := d.Mail.TestAccount(ctx, a.AccountID); err != nil {
					return nil, err
				}
				return statusOK, nil
			},
		},
		&command{
			name:        "remove_account",
			description: "Remove an account, its session, cached folders and panels",
			required:    []string{"account_id"},
			run: func(ctx context.Context, a Args) (interface{}, error) {
				if err := d.Accounts.Remove(a.AccountID); err != nil {
					return nil, email.Validationf("%v", err)
				}
				d.Panels.DisposeAccount(a.AccountID)
				d.Folders.Remove(a.AccountID)
				if d.Badge != nil {
					d.Badge.Forget(a.AccountID)
				}
				return statusOK, nil
			},
		},
	}
}

func markSeen(ctx context.Context, d Deps, a Args, seen bool) (interface{}, error) {
	if err := d.Mail.MarkSeen(ctx, a.AccountID, a.FolderPath, a.UID, seen); err != nil {
		return nil, err
	}
	d.Panels.MessageChanged(ctx, a.AccountID, a.FolderPath)
	return statusOK, nil
}

func download(ctx context.Context, d Deps, a Args) (*DownloadResult, error) {
	att, err := d.Mail.Attachment(ctx, a.AccountID, a.FolderPath, a.UID, a.Filename)
	if err != nil {
		return nil, err
	}

	path := a.SaveTo
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, filepath.Base(att.Filename))
	}
	if err := os.WriteFile(path, att.Content, 0600); err != nil {
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}
	return &DownloadResult{Path: path, Size: len(att.Content), ContentType: att.ContentType}, nil
}

func composeMessage(a Args) (*email.EmailMessage, error) {
	if a.BodyText == "" && a.BodyHTML == "" {
		return nil, email.Validationf("either body_text or body_html is required")
	}
	msg := &email.EmailMessage{
		To:         splitList(a.To),
		Cc:         splitList(a.Cc),
		Bcc:        splitList(a.Bcc),
		Subject:    a.Subject,
		BodyText:   a.BodyText,
		BodyHTML:   a.BodyHTML,
		ReplyTo:    a.ReplyTo,
		InReplyTo:  a.InReplyTo,
		References: a.References,
	}
	for _, path := range a.Attachments {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, email.Validationf("failed to read attachment %s: %v", path, err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename: filepath.Base(path),
			Content:  content,
			MimeType: mimeType,
		})
	}
	return msg, nil
}
