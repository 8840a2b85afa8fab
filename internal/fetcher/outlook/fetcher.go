// Package outlook implements domain.EntityFetcher against Microsoft
// Graph, mirroring the gmail fetcher's synthesized-ID strategy so the
// indexer's range queries never depend on a provider's own opaque
// message identifiers.
package outlook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/northbound-dev/mailindex/internal/clock"
	"github.com/northbound-dev/mailindex/internal/domain"
)

// Fetcher is the Microsoft Graph-backed domain.EntityFetcher.
type Fetcher struct {
	client *msgraphsdk.GraphServiceClient
	userID string
}

// New builds a Fetcher bound to one Graph user (mailbox owner).
func New(accessToken, userID string) (*Fetcher, error) {
	cred := &staticTokenCredential{token: accessToken}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("could not create graph client: %w", err)
	}
	return &Fetcher{client: client, userID: userID}, nil
}

// LoadMail fetches one message by its synthesized element ID.
func (f *Fetcher) LoadMail(ctx context.Context, listID, elementID domain.GeneratedID) (*domain.Mail, error) {
	graphID, err := graphMessageID(elementID)
	if err != nil {
		return nil, err
	}

	msg, err := f.client.Users().ByUserId(f.userID).Messages().ByMessageId(graphID).Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not load message %s: %w", graphID, err)
	}

	state := domain.StateReceived
	if draft := msg.GetIsDraft(); draft != nil && *draft {
		state = domain.StateDraft
	}

	attachments, err := f.attachmentIDs(ctx, graphID, elementID, msg.GetHasAttachments())
	if err != nil {
		return nil, err
	}

	return &domain.Mail{
		ListID:        listID,
		ElementID:     elementID,
		Subject:       stringValue(msg.GetSubject()),
		To:            extractRecipients(msg.GetToRecipients()),
		Cc:            extractRecipients(msg.GetCcRecipients()),
		Bcc:           extractRecipients(msg.GetBccRecipients()),
		Sender:        extractSender(msg.GetFrom()),
		BodyID:        elementID,
		AttachmentIDs: attachments,
		State:         state,
	}, nil
}

// LoadBody fetches the body content for bodyID.
func (f *Fetcher) LoadBody(ctx context.Context, bodyID domain.GeneratedID) (*domain.MailBody, error) {
	graphID, err := graphMessageID(bodyID)
	if err != nil {
		return nil, err
	}

	msg, err := f.client.Users().ByUserId(f.userID).Messages().ByMessageId(graphID).Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not load body for %s: %w", graphID, err)
	}

	body := msg.GetBody()
	if body == nil {
		return &domain.MailBody{ID: bodyID}, nil
	}

	isHTML := body.GetContentType() != nil && *body.GetContentType() == models.HTML_BODYTYPE
	return &domain.MailBody{ID: bodyID, HTML: isHTML, Text: stringValue(body.GetContent())}, nil
}

// LoadFiles fetches attachment metadata for the given file IDs.
func (f *Fetcher) LoadFiles(ctx context.Context, fileIDs []domain.GeneratedID) ([]domain.File, error) {
	files := make([]domain.File, 0, len(fileIDs))
	for _, id := range fileIDs {
		graphID, attachmentID, err := splitAttachmentID(id)
		if err != nil {
			return nil, err
		}
		attachment, err := f.client.Users().ByUserId(f.userID).Messages().ByMessageId(graphID).
			Attachments().ByAttachmentId(attachmentID).Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("could not load attachment %s: %w", attachmentID, err)
		}
		files = append(files, domain.File{ID: id, Name: stringValue(attachment.GetName())})
	}
	return files, nil
}

// LoadMailbox builds a folder tree from the well-known Graph mail
// folders (inbox, junkemail, sentitems, deleteditems). Child folders are
// not loaded.
func (f *Fetcher) LoadMailbox(ctx context.Context, groupID string) (*domain.Mailbox, error) {
	wellKnown := map[string]domain.FolderType{
		"inbox":        domain.FolderInbox,
		"junkemail":    domain.FolderSpam,
		"sentitems":    domain.FolderSent,
		"deleteditems": domain.FolderTrash,
	}

	var folders []domain.MailFolder
	for id, typ := range wellKnown {
		folder, err := f.client.Users().ByUserId(f.userID).MailFolders().ByMailFolderId(id).Get(ctx, nil)
		if err != nil {
			continue // absent well-known folder, e.g. no junk folder provisioned
		}
		folders = append(folders, domain.MailFolder{
			ID:         domain.GeneratedID(stringValue(folder.GetId())),
			Type:       typ,
			MailListID: domain.GeneratedID(stringValue(folder.GetId())),
		})
	}

	return &domain.Mailbox{GroupID: groupID, SystemFolders: folders}, nil
}

// LoadMailRange lists messages in listID strictly older than startID.
func (f *Fetcher) LoadMailRange(ctx context.Context, listID, startID domain.GeneratedID, count int) ([]domain.Mail, error) {
	top := int32(count)
	cfg := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
			Top:     &top,
			Orderby: []string{"receivedDateTime desc"},
		},
	}

	result, err := f.client.Users().ByUserId(f.userID).MailFolders().ByMailFolderId(string(listID)).Messages().Get(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not list messages for %s: %w", listID, err)
	}

	mails := make([]domain.Mail, 0, len(result.GetValue()))
	for _, msg := range result.GetValue() {
		received := msg.GetReceivedDateTime()
		if received == nil || msg.GetId() == nil {
			continue
		}

		elementID := syntheticElementID(*received, *msg.GetId())
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

func syntheticElementID(t time.Time, graphID string) domain.GeneratedID {
	return domain.GeneratedID(string(clock.TimestampToID(t)) + ":" + graphID)
}

func graphMessageID(elementID domain.GeneratedID) (string, error) {
	parts := strings.SplitN(string(elementID), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed outlook element id %q", elementID)
	}
	return parts[1], nil
}

func splitAttachmentID(id domain.GeneratedID) (graphID, attachmentID string, err error) {
	parts := strings.SplitN(string(id), ":", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed outlook attachment id %q", id)
	}
	return parts[1], parts[2], nil
}

// attachmentIDs lists a message's attachments and synthesizes one ID
// per attachment, embedding the owning message's graph ID so LoadFiles
// can fetch each by ByAttachmentId without a second listing call.
func (f *Fetcher) attachmentIDs(ctx context.Context, graphID string, elementID domain.GeneratedID, hasAttachments *bool) ([]domain.GeneratedID, error) {
	if hasAttachments == nil || !*hasAttachments {
		return nil, nil
	}

	result, err := f.client.Users().ByUserId(f.userID).Messages().ByMessageId(graphID).Attachments().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not list attachments for %s: %w", graphID, err)
	}

	ids := make([]domain.GeneratedID, 0, len(result.GetValue()))
	for _, attachment := range result.GetValue() {
		attachmentID := attachment.GetId()
		if attachmentID == nil {
			continue
		}
		ids = append(ids, domain.GeneratedID(fmt.Sprintf("%s:%s", elementID, *attachmentID)))
	}
	return ids, nil
}

func extractSender(from models.Recipientable) domain.Recipient {
	if from == nil {
		return domain.Recipient{}
	}
	addr := from.GetEmailAddress()
	if addr == nil {
		return domain.Recipient{}
	}
	return domain.Recipient{Name: stringValue(addr.GetName()), Address: stringValue(addr.GetAddress())}
}

func extractRecipients(recipients []models.Recipientable) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(recipients))
	for _, r := range recipients {
		addr := r.GetEmailAddress()
		if addr == nil {
			continue
		}
		out = append(out, domain.Recipient{Name: stringValue(addr.GetName()), Address: stringValue(addr.GetAddress())})
	}
	return out
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}
