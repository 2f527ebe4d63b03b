package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
	"github.com/construmedicis/buildtracking/internal/infrastructure/resilience"
)

const (
	defaultUser = "me"
	pageSize    = 100
)

type Config struct {
	// CredentialsJSON carries a service-account key with domain-wide
	// delegation to the invoice mailbox.
	CredentialsJSON []byte
	// ImpersonateUser is the mailbox address the service account reads.
	ImpersonateUser string
}

// Transport reads invoice attachments from a Gmail mailbox. It implements
// ports.MailTransport; every API call runs through the resilience executor.
type Transport struct {
	svc      *gmail.Service
	user     string
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewTransport(ctx context.Context, cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Transport, error) {
	if len(cfg.CredentialsJSON) == 0 {
		return nil, fmt.Errorf("gmail transport: credentials are required")
	}

	jwtConfig, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	jwtConfig.Subject = cfg.ImpersonateUser

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Transport{
		svc:      svc,
		user:     defaultUser,
		executor: executor,
		logger:   logger,
	}, nil
}

// ListMessages returns the IDs of mailbox messages carrying attachments under
// the given label, newest first, constrained by the fetch window.
func (t *Transport) ListMessages(ctx context.Context, label string, window ports.FetchWindow) ([]string, error) {
	query := searchQuery(label, window)

	var ids []string
	pageToken := ""
	for {
		var resp *gmail.ListMessagesResponse
		err := t.executor.Execute(ctx, "gmail_list_messages", func(ctx context.Context) error {
			call := t.svc.Users.Messages.List(t.user).Q(query).MaxResults(pageSize).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var execErr error
			resp, execErr = call.Do()
			return execErr
		}, classifyGmailError)
		if err != nil {
			return nil, domain.WrapError(domain.ErrTransport, "list gmail messages", err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	t.logger.Debug("gmail_messages_listed", "query", query, "count", len(ids))
	return ids, nil
}

// FetchAttachments downloads every attachment of one message. Inline bodies
// and parts without a filename are skipped.
func (t *Transport) FetchAttachments(ctx context.Context, messageID string) ([]ports.Attachment, error) {
	var msg *gmail.Message
	err := t.executor.Execute(ctx, "gmail_get_message", func(ctx context.Context) error {
		var execErr error
		msg, execErr = t.svc.Users.Messages.Get(t.user, messageID).Format("full").Context(ctx).Do()
		return execErr
	}, classifyGmailError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransport, "get gmail message "+messageID, err)
	}
	if msg.Payload == nil {
		return nil, nil
	}

	var attachments []ports.Attachment
	for _, part := range flattenParts(msg.Payload) {
		data, err := t.partData(ctx, messageID, part)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		attachments = append(attachments, ports.Attachment{Filename: part.Filename, Data: data})
	}

	t.logger.Debug("gmail_attachments_fetched", "message_id", messageID, "count", len(attachments))
	return attachments, nil
}

func (t *Transport) partData(ctx context.Context, messageID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body == nil {
		return nil, nil
	}
	if part.Body.Data != "" {
		data, err := decodeBody(part.Body.Data)
		if err != nil {
			return nil, domain.WrapError(domain.ErrTransport, "decode inline attachment "+part.Filename, err)
		}
		return data, nil
	}
	if part.Body.AttachmentId == "" {
		return nil, nil
	}

	var body *gmail.MessagePartBody
	err := t.executor.Execute(ctx, "gmail_get_attachment", func(ctx context.Context) error {
		var execErr error
		body, execErr = t.svc.Users.Messages.Attachments.
			Get(t.user, messageID, part.Body.AttachmentId).Context(ctx).Do()
		return execErr
	}, classifyGmailError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransport, "get attachment "+part.Filename, err)
	}

	data, err := decodeBody(body.Data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransport, "decode attachment "+part.Filename, err)
	}
	return data, nil
}

// flattenParts walks the MIME tree depth-first and keeps only named
// attachment parts. Multipart containers carry no filename themselves.
func flattenParts(payload *gmail.MessagePart) []*gmail.MessagePart {
	var out []*gmail.MessagePart
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename != "" {
			out = append(out, part)
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)
	return out
}

// searchQuery builds the Gmail search expression. Epoch-second after/before
// bounds keep the window timezone-independent.
func searchQuery(label string, window ports.FetchWindow) string {
	terms := []string{"has:attachment"}
	if label != "" {
		terms = append(terms, "label:"+label)
	}
	if window.After != nil {
		terms = append(terms, fmt.Sprintf("after:%d", window.After.Unix()))
	}
	if window.Before != nil {
		terms = append(terms, fmt.Sprintf("before:%d", window.Before.Unix()))
	}
	return strings.Join(terms, " ")
}

// decodeBody handles both web-safe base64 variants the API emits; attachment
// bodies arrive unpadded, inline data occasionally padded.
func decodeBody(data string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(data)
}
