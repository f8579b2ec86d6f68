package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	emaildomain "replypilot-backend/internal/email/domain"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Service wraps the Gmail API for the automation pipeline. The caller
// supplies an authenticated *http.Client (from the credential store), so the
// service itself holds no per-user state.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) newClient(ctx context.Context, client *http.Client) (*gmail.Service, error) {
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// ListRecentUnread returns stubs for inbox messages that are both unread and
// newer than sinceMinutes, bounded by maxResults. The double filter keeps a
// scan from walking the whole mailbox every scheduler tick.
func (s *Service) ListRecentUnread(ctx context.Context, client *http.Client, maxResults int64, sinceMinutes int) ([]*emaildomain.MessageStub, error) {
	srv, err := s.newClient(ctx, client)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("is:unread newer_than:%dm", sinceMinutes)
	resp, err := srv.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(maxResults).
		Q(query).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("list", err)
	}

	stubs := make([]*emaildomain.MessageStub, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		stubs = append(stubs, &emaildomain.MessageStub{
			ID:       msg.Id,
			ThreadID: msg.ThreadId,
		})
	}
	return stubs, nil
}

// FetchFull retrieves the complete content of one message. A message without
// a text body yields an empty Body, never an error.
func (s *Service) FetchFull(ctx context.Context, client *http.Client, messageID string) (*emaildomain.FullMessage, error) {
	srv, err := s.newClient(ctx, client)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("get", err)
	}

	subject := getHeader(msg.Payload.Headers, "Subject")
	if subject == "" {
		subject = "No Subject"
	}
	from := getHeader(msg.Payload.Headers, "From")
	if from == "" {
		from = "Unknown Sender"
	}

	receivedAt := time.Now()
	if msg.InternalDate > 0 {
		receivedAt = time.Unix(msg.InternalDate/1000, 0)
	}

	return &emaildomain.FullMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Subject:    subject,
		From:       from,
		Snippet:    msg.Snippet,
		Body:       extractBody(msg.Payload),
		ReceivedAt: receivedAt,
	}, nil
}

// SendReply sends an HTML reply threaded into the original conversation.
func (s *Service) SendReply(ctx context.Context, client *http.Client, reply *emaildomain.OutgoingReply) error {
	srv, err := s.newClient(ctx, client)
	if err != nil {
		return err
	}

	msg := &gmail.Message{
		Raw:      base64.RawURLEncoding.EncodeToString([]byte(buildReplyRaw(reply))),
		ThreadId: reply.ThreadID,
	}

	if _, err := srv.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return classify("send", err)
	}
	return nil
}

// MarkRead removes the UNREAD label so a future scan does not pick the
// message up again.
func (s *Service) MarkRead(ctx context.Context, client *http.Client, messageID string) error {
	srv, err := s.newClient(ctx, client)
	if err != nil {
		return err
	}

	modifyReq := &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}
	if _, err := srv.Users.Messages.Modify("me", messageID, modifyReq).Context(ctx).Do(); err != nil {
		return classify("modify", err)
	}
	return nil
}

// buildReplyRaw assembles the RFC 2822 message for a reply. Threading into the
// original conversation is handled by the Gmail threadId on the send request.
func buildReplyRaw(reply *emaildomain.OutgoingReply) string {
	return strings.Join([]string{
		fmt.Sprintf("To: %s", reply.To),
		fmt.Sprintf("Subject: %s", reply.Subject),
		"Content-Type: text/html; charset=utf-8",
		"MIME-Version: 1.0",
		"",
		reply.BodyHTML,
	}, "\r\n")
}

// decodeBody handles both padded and unpadded base64url, since the API
// returns bodies without padding.
func decodeBody(data string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

// extractBody prefers the text/plain part of a message, walking nested
// multipart payloads, and falls back to an empty string when no text part
// exists.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return string(data)
		}
	}

	var plainBody string
	var findPlain func(parts []*gmail.MessagePart)
	findPlain = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if plainBody != "" {
				return
			}
			if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
				if data, err := decodeBody(part.Body.Data); err == nil {
					plainBody = string(data)
					return
				}
			}
			if len(part.Parts) > 0 {
				findPlain(part.Parts)
			}
		}
	}
	findPlain(payload.Parts)

	return plainBody
}
