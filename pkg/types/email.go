package types

import "time"

// Address is a normalized mailbox address
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String formats the address as "Name <addr>" or the bare address
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// MessageSummary is one row of a message listing
type MessageSummary struct {
	UID            uint32    `json:"uid"`
	Date           time.Time `json:"date"`
	Subject        string    `json:"subject"`
	From           []Address `json:"from"`
	To             []Address `json:"to"`
	Cc             []Address `json:"cc,omitempty"`
	HasAttachments bool      `json:"has_attachments"`
	Seen           bool      `json:"seen"`
	Size           uint32    `json:"size"`
}

// AttachmentInfo describes an attachment without its content
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Disposition string `json:"disposition"`
}

// Attachment is a downloaded attachment
type Attachment struct {
	AttachmentInfo
	Content []byte `json:"-"`
}

// MessageDetail is a fully fetched and decoded message
type MessageDetail struct {
	MessageSummary
	MessageID   string           `json:"message_id,omitempty"`
	InReplyTo   string           `json:"in_reply_to,omitempty"`
	ReplyTo     []Address        `json:"reply_to,omitempty"`
	HTML        string           `json:"html,omitempty"`
	Text        string           `json:"text,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// Folder roles used for SpecialUse
const (
	RoleInbox       = "inbox"
	RoleSent        = "sent"
	RoleDrafts      = "drafts"
	RoleTrash       = "trash"
	RoleSpam        = "spam"
	RoleArchive     = "archive"
	RoleNewsletters = "newsletters"
	RoleAll         = "all"
	RoleFlagged     = "flagged"
)

// FolderNode is one mailbox in an account's folder forest.
// Children point downwards only; parents are looked up by path.
type FolderNode struct {
	Path           string        `json:"path"`
	DisplayName    string        `json:"display_name"`
	Delimiter      string        `json:"delimiter"`
	ParentPath     string        `json:"parent_path,omitempty"`
	SpecialUse     string        `json:"special_use,omitempty"`
	TotalMessages  int           `json:"total_messages"`
	UnseenMessages int           `json:"unseen_messages"`
	Selectable     bool          `json:"selectable"`
	Children       []*FolderNode `json:"children,omitempty"`
}

// FolderSnapshot is a persisted folder status row
type FolderSnapshot struct {
	AccountID      string     `json:"account_id"`
	Path           string     `json:"path"`
	ParentPath     string     `json:"parent_path,omitempty"`
	DisplayName    string     `json:"display_name"`
	Delimiter      string     `json:"delimiter"`
	SpecialUse     string     `json:"special_use,omitempty"`
	TotalMessages  int        `json:"total_messages"`
	UnseenMessages int        `json:"unseen_messages"`
	Selectable     bool       `json:"selectable"`
	LastSynced     *time.Time `json:"last_synced,omitempty"`
}
