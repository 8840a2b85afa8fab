// Package tokenizer turns a (mail, body, attachments) triple into the
// lazy attribute values the indexer core tokenizes into postings. It
// does not tokenize text itself — that is the core's job — it only
// decides which attribute tag covers which value, and in what order.
package tokenizer

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/northbound-dev/mailindex/internal/domain"
)

// valueProducer lazily computes one attribute's tokenizable text. Apply
// computes every producer's value in turn and skips the empty ones.
type valueProducer struct {
	attr  domain.AttributeTag
	value func() string
}

// Triple bundles the three fetched pieces one mail instance needs.
type Triple struct {
	Mail  domain.Mail
	Body  *domain.MailBody
	Files []domain.File
}

// Apply tokenizes one triple through the indexer core and appends the
// resulting encrypted postings into update.
func Apply(ctx context.Context, core domain.IndexerCore, t Triple, update *domain.IndexUpdate) error {
	instanceKey := t.Mail.InstanceID()

	for _, p := range producers(t) {
		value := p.value()
		if value == "" {
			continue
		}

		entries := core.CreateIndexEntries(p.attr, instanceKey, value)
		if len(entries) == 0 {
			continue
		}

		if err := core.EncryptEntries(ctx, t.Mail.ElementID, t.Mail.OwnerGroup, entries, update); err != nil {
			return fmt.Errorf("could not encrypt index entries for %s: %w", p.attr, err)
		}
	}

	return nil
}

func producers(t Triple) []valueProducer {
	return []valueProducer{
		{domain.AttrSubject, func() string { return t.Mail.Subject }},
		{domain.AttrTo, func() string { return joinRecipients(t.Mail.To) }},
		{domain.AttrCc, func() string { return joinRecipients(t.Mail.Cc) }},
		{domain.AttrBcc, func() string { return joinRecipients(t.Mail.Bcc) }},
		{domain.AttrSender, func() string { return recipientString(t.Mail.Sender) }},
		{domain.AttrBody, func() string { return bodyText(t.Body) }},
		{domain.AttrAttachments, func() string { return attachmentNames(t.Files) }},
	}
}

func recipientString(r domain.Recipient) string {
	if r.Address == "" {
		return ""
	}
	if r.Name == "" {
		return r.Address
	}
	return fmt.Sprintf("%s <%s>", r.Name, r.Address)
}

func joinRecipients(rs []domain.Recipient) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		if s := recipientString(r); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func attachmentNames(files []domain.File) string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return strings.Join(names, " ")
}

// bodyText strips HTML markup down to plaintext, per the tokenizer
// contract which never indexes raw markup.
func bodyText(body *domain.MailBody) string {
	if body == nil || body.Text == "" {
		return ""
	}
	if !body.HTML {
		return body.Text
	}
	return stripHTML(body.Text)
}

func stripHTML(markup string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(tokenizer.Text())
			b.WriteByte(' ')
		}
	}
}
