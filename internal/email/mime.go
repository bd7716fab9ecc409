package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailview/pkg/types"
)

// decoded is the MIME content of a raw message
type decoded struct {
	text        string
	html        string
	attachments []*enmime.Part
}

// decodeMessage parses raw RFC 5322 bytes with enmime
func decodeMessage(raw []byte) (*decoded, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(KindProtocol, "decode", err)
	}

	d := &decoded{
		text: env.Text,
		html: env.HTML,
	}
	d.attachments = append(d.attachments, env.Attachments...)
	for _, p := range env.Inlines {
		if p.FileName != "" {
			d.attachments = append(d.attachments, p)
		}
	}
	for _, p := range env.OtherParts {
		if p.FileName != "" {
			d.attachments = append(d.attachments, p)
		}
	}
	return d, nil
}

func (d *decoded) attachmentInfos() []types.AttachmentInfo {
	out := make([]types.AttachmentInfo, 0, len(d.attachments))
	for _, p := range d.attachments {
		out = append(out, attachmentInfo(p))
	}
	return out
}

func (d *decoded) attachment(filename string) (*types.Attachment, bool) {
	for _, p := range d.attachments {
		if p.FileName == filename {
			return &types.Attachment{
				AttachmentInfo: attachmentInfo(p),
				Content:        p.Content,
			}, true
		}
	}
	return nil, false
}

func attachmentInfo(p *enmime.Part) types.AttachmentInfo {
	disposition := p.Disposition
	if disposition == "" {
		disposition = "attachment"
	}
	return types.AttachmentInfo{
		Filename:    p.FileName,
		ContentType: p.ContentType,
		Size:        len(p.Content),
		Disposition: strings.ToLower(disposition),
	}
}

// rawBody returns the full message literal from a fetch response
func rawBody(msg *imap.Message, section *imap.BodySectionName) ([]byte, error) {
	literal := msg.GetBody(section)
	if literal == nil {
		for _, l := range msg.Body {
			if l != nil {
				literal = l
				break
			}
		}
	}
	if literal == nil {
		return nil, newError(KindProtocol, "fetch", fmt.Errorf("message %d has no body", msg.Uid))
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(literal); err != nil {
		return nil, newError(KindProtocol, "fetch", err)
	}
	return buf.Bytes(), nil
}
