// Package listing pages through a sequence-numbered mailbox newest first.
package listing

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/brandon/mailview/pkg/types"
)

// Range is an inclusive, ascending sequence-number range.
// Empty is set when there is nothing to fetch; Start and End still carry
// the clamped values.
type Range struct {
	Start uint32
	End   uint32
	Empty bool
}

// SeqSet converts the range to an IMAP sequence set
func (r Range) SeqSet() *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddRange(r.Start, r.End)
	return seqset
}

// Len is the number of messages the range covers
func (r Range) Len() int {
	if r.Empty {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// ComputeRange returns [max(1, total-offset-limit+1), max(1, total-offset)]
// for a page of limit messages starting offset messages from the newest.
func ComputeRange(total uint32, limit, offset int) Range {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	t := int64(total)
	start := t - int64(offset) - int64(limit) + 1
	end := t - int64(offset)
	if start < 1 {
		start = 1
	}
	if end < 1 {
		end = 1
	}

	return Range{
		Start: uint32(start),
		End:   uint32(end),
		Empty: total == 0 || limit == 0 || int64(offset) >= t,
	}
}

// FetchFunc fetches the messages in a sequence range
type FetchFunc func(r Range) ([]*imap.Message, error)

// Page fetches one page and returns it sorted newest first. Nothing is
// fetched for an empty range.
func Page(total uint32, limit, offset int, fetch FetchFunc) ([]types.MessageSummary, error) {
	r := ComputeRange(total, limit, offset)
	if r.Empty {
		return []types.MessageSummary{}, nil
	}

	msgs, err := fetch(r)
	if err != nil {
		return nil, err
	}

	page := make([]types.MessageSummary, 0, len(msgs))
	for _, msg := range msgs {
		summary, ok := Summarize(msg)
		if !ok {
			continue
		}
		page = append(page, summary)
	}

	SortNewestFirst(page)
	return page, nil
}

// SortNewestFirst orders by date descending, then UID descending.
// Sequence order does not follow date order on every server.
func SortNewestFirst(page []types.MessageSummary) {
	sort.SliceStable(page, func(i, j int) bool {
		if !page[i].Date.Equal(page[j].Date) {
			return page[i].Date.After(page[j].Date)
		}
		return page[i].UID > page[j].UID
	})
}

// FetchItems are the items a listing needs per message
func FetchItems() []imap.FetchItem {
	return []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchRFC822Size,
		imap.FetchBodyStructure,
	}
}

// Summarize converts a fetched message. It reports false for messages
// without an envelope.
func Summarize(msg *imap.Message) (types.MessageSummary, bool) {
	if msg == nil || msg.Envelope == nil {
		return types.MessageSummary{}, false
	}

	env := msg.Envelope
	return types.MessageSummary{
		UID:            msg.Uid,
		Date:           env.Date,
		Subject:        env.Subject,
		From:           Addresses(env.From),
		To:             Addresses(env.To),
		Cc:             Addresses(env.Cc),
		HasAttachments: HasAttachments(msg.BodyStructure),
		Seen:           HasFlag(msg.Flags, imap.SeenFlag),
		Size:           msg.Size,
	}, true
}

// Addresses normalizes envelope addresses
func Addresses(list []*imap.Address) []types.Address {
	out := make([]types.Address, 0, len(list))
	for _, a := range list {
		if a == nil {
			continue
		}
		// Group syntax markers carry no host
		if a.HostName == "" && a.MailboxName != "" && a.PersonalName == "" {
			continue
		}
		out = append(out, types.Address{
			Name:    a.PersonalName,
			Address: a.Address(),
		})
	}
	return out
}

// HasFlag reports whether flags contains flag, ignoring case
func HasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// HasAttachments walks a body structure looking for attachment parts
func HasAttachments(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	if _, ok := bs.DispositionParams["filename"]; ok && !strings.EqualFold(bs.Disposition, "inline") {
		return true
	}
	for _, part := range bs.Parts {
		if HasAttachments(part) {
			return true
		}
	}
	return false
}
