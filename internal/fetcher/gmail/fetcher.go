// Package gmail implements domain.EntityFetcher against the Gmail API,
// synthesizing the indexer's own time-ordered generated IDs from each
// message's internal date so the indexer never depends on Gmail's own
// opaque message identifiers for range queries.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/northbound-dev/mailindex/internal/clock"
	"github.com/northbound-dev/mailindex/internal/domain"
)

// Fetcher is the Gmail-backed domain.EntityFetcher.
type Fetcher struct {
	svc *gmail.Service
}

// New builds a Fetcher for one user's OAuth2 token.
func New(ctx context.Context, token *oauth2.Token) (*Fetcher, error) {
	config := &oauth2.Config{Scopes: []string{gmail.GmailReadonlyScope}}
	httpClient := config.Client(ctx, token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("could not create gmail service: %w", err)
	}
	return &Fetcher{svc: svc}, nil
}

// LoadMail fetches one message by its synthesized element ID, which
// embeds the Gmail message ID after the colon.
func (f *Fetcher) LoadMail(ctx context.Context, listID, elementID domain.GeneratedID) (*domain.Mail, error) {
	gmailID, err := gmailMessageID(elementID)
	if err != nil {
		return nil, err
	}

	msg, err := f.svc.Users.Messages.Get("me", gmailID).Format("metadata").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not load message %s: %w", gmailID, err)
	}

	headers := headerMap(msg.Payload)
	state := domain.StateReceived
	for _, label := range msg.LabelIds {
		if label == "DRAFT" {
			state = domain.StateDraft
		}
	}

	return &domain.Mail{
		ListID:        listID,
		ElementID:     elementID,
		Subject:       headers["Subject"],
		To:            parseAddressList(headers["To"]),
		Cc:            parseAddressList(headers["Cc"]),
		Bcc:           parseAddressList(headers["Bcc"]),
		Sender:        parseAddress(headers["From"]),
		BodyID:        elementID,
		AttachmentIDs: attachmentIDs(msg.Payload, elementID),
		State:         state,
	}, nil
}

// LoadBody fetches and decodes the plaintext or HTML body for bodyID,
// which is the same synthesized ID as its owning mail's element ID.
func (f *Fetcher) LoadBody(ctx context.Context, bodyID domain.GeneratedID) (*domain.MailBody, error) {
	gmailID, err := gmailMessageID(bodyID)
	if err != nil {
		return nil, err
	}

	msg, err := f.svc.Users.Messages.Get("me", gmailID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not load body for %s: %w", gmailID, err)
	}

	text, html, err := extractBody(msg.Payload)
	if err != nil {
		return nil, err
	}
	if text != "" {
		return &domain.MailBody{ID: bodyID, HTML: false, Text: text}, nil
	}
	return &domain.MailBody{ID: bodyID, HTML: true, Text: html}, nil
}

// LoadFiles fetches attachment names for the given file IDs, each
// encoding the owning message's Gmail ID and the attachment's part ID.
func (f *Fetcher) LoadFiles(ctx context.Context, fileIDs []domain.GeneratedID) ([]domain.File, error) {
	files := make([]domain.File, 0, len(fileIDs))
	for _, id := range fileIDs {
		gmailID, partID, err := splitAttachmentID(id)
		if err != nil {
			return nil, err
		}
		msg, err := f.svc.Users.Messages.Get("me", gmailID).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("could not load attachments for %s: %w", gmailID, err)
		}
		name := findAttachmentName(msg.Payload, partID)
		files = append(files, domain.File{ID: id, Name: name})
	}
	return files, nil
}

// LoadMailbox builds a flat folder tree from every Gmail label, system
// and user-created alike.
func (f *Fetcher) LoadMailbox(ctx context.Context, groupID string) (*domain.Mailbox, error) {
	resp, err := f.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not list labels: %w", err)
	}

	var folders []domain.MailFolder
	for _, label := range resp.Labels {
		folders = append(folders, domain.MailFolder{
			ID:         domain.GeneratedID(label.Id),
			Type:       folderType(label.Id),
			MailListID: domain.GeneratedID(label.Id),
		})
	}

	return &domain.Mailbox{GroupID: groupID, SystemFolders: folders}, nil
}

// LoadMailRange lists messages in listID (a Gmail label) strictly
// older than startID, returning at most count, newest first.
func (f *Fetcher) LoadMailRange(ctx context.Context, listID, startID domain.GeneratedID, count int) ([]domain.Mail, error) {
	call := f.svc.Users.Messages.List("me").LabelIds(string(listID)).MaxResults(int64(count)).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("could not list messages for %s: %w", listID, err)
	}

	mails := make([]domain.Mail, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		meta, err := f.svc.Users.Messages.Get("me", m.Id).Format("metadata").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("could not load message %s: %w", m.Id, err)
		}

		elementID := syntheticElementID(time.UnixMilli(meta.InternalDate), m.Id)
		if startID != clock.GeneratedMaxID && elementID >= startID {
			continue
		}

		mail, err := f.LoadMail(ctx, listID, elementID)
		if err != nil {
			return nil, err
		}
		mails = append(mails, *mail)
		if len(mails) >= count {
			break
		}
	}
	return mails, nil
}

func syntheticElementID(t time.Time, gmailID string) domain.GeneratedID {
	return domain.GeneratedID(string(clock.TimestampToID(t)) + ":" + gmailID)
}

func gmailMessageID(elementID domain.GeneratedID) (string, error) {
	parts := strings.SplitN(string(elementID), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed gmail element id %q", elementID)
	}
	return parts[1], nil
}

func splitAttachmentID(id domain.GeneratedID) (gmailID, partID string, err error) {
	// IDs have the shape "attach:<timestamp>:<gmailID>:<partID>", see
	// attachmentIDs.
	parts := strings.SplitN(string(id), ":", 4)
	if len(parts) != 4 {
		return "", "", fmt.Errorf("malformed gmail attachment id %q", id)
	}
	return parts[2], parts[3], nil
}

func headerMap(part *gmail.MessagePart) map[string]string {
	headers := make(map[string]string)
	if part == nil {
		return headers
	}
	for _, h := range part.Headers {
		headers[h.Name] = h.Value
	}
	return headers
}

func parseAddress(raw string) domain.Recipient {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Recipient{}
	}
	if idx := strings.LastIndex(raw, "<"); idx >= 0 && strings.HasSuffix(raw, ">") {
		return domain.Recipient{
			Name:    strings.TrimSpace(raw[:idx]),
			Address: strings.TrimSuffix(raw[idx+1:], ">"),
		}
	}
	return domain.Recipient{Address: raw}
}

func parseAddressList(raw string) []domain.Recipient {
	if raw == "" {
		return nil
	}
	var out []domain.Recipient
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, parseAddress(trimmed))
		}
	}
	return out
}

func attachmentIDs(part *gmail.MessagePart, elementID domain.GeneratedID) []domain.GeneratedID {
	if part == nil {
		return nil
	}
	var ids []domain.GeneratedID
	var walk func(*gmail.MessagePart)
	walk = func(p *gmail.MessagePart) {
		if p.Filename != "" && p.Body != nil && p.Body.AttachmentId != "" {
			ids = append(ids, domain.GeneratedID(fmt.Sprintf("attach:%s:%s", elementID, p.PartId)))
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(part)
	return ids
}

func findAttachmentName(part *gmail.MessagePart, partID string) string {
	if part == nil {
		return ""
	}
	if part.PartId == partID {
		return part.Filename
	}
	for _, child := range part.Parts {
		if name := findAttachmentName(child, partID); name != "" {
			return name
		}
	}
	return ""
}

func extractBody(part *gmail.MessagePart) (text, html string, err error) {
	if part == nil {
		return "", "", nil
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return "", "", err
		}
		text = decoded
	}
	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return "", "", err
		}
		html = decoded
	}
	for _, child := range part.Parts {
		childText, childHTML, err := extractBody(child)
		if err != nil {
			return "", "", err
		}
		if text == "" {
			text = childText
		}
		if html == "" {
			html = childHTML
		}
	}
	return text, html, nil
}

func decodeBase64URL(s string) (string, error) {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("could not decode message body: %w", err)
	}
	return string(decoded), nil
}

func folderType(labelID string) domain.FolderType {
	switch labelID {
	case "INBOX":
		return domain.FolderInbox
	case "SPAM":
		return domain.FolderSpam
	case "SENT":
		return domain.FolderSent
	case "TRASH":
		return domain.FolderTrash
	default:
		return domain.FolderOther
	}
}
