// Package inbox implements the admin-side email operations: listing, status
// changes and sending replies that stay on the original thread.
package inbox

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SendRequest is an outbound message, optionally replying to a stored email.
type SendRequest struct {
	To             string
	Subject        string
	HTML           string
	ReplyToEmailID string
}

// Service wraps the email store and the outbound sender.
type Service struct {
	emails domain.EmailStore
	sender domain.MessageSender
	from   string
	clock  domain.Clock
	ids    domain.IDGenerator
	logger *zap.Logger
}

// NewService builds a Service. fromAddress is the sender's configured From and
// is recorded on every outbound email.
func NewService(
	emails domain.EmailStore,
	sender domain.MessageSender,
	fromAddress string,
	clock domain.Clock,
	ids domain.IDGenerator,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		emails: emails,
		sender: sender,
		from:   strings.TrimSpace(fromAddress),
		clock:  clock,
		ids:    ids,
		logger: logger.Named("inbox"),
	}
}

// List returns emails matching filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.EmailFilter) ([]domain.Email, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	switch filter.Direction {
	case "", domain.DirectionInbound, domain.DirectionOutbound:
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrValidation, filter.Direction)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.emails.ListEmails(ctx, filter)
}

// Get returns one email.
func (s *Service) Get(ctx context.Context, id string) (domain.Email, error) {
	return s.emails.GetEmail(ctx, id)
}

// Thread returns every email on a thread, oldest first.
func (s *Service) Thread(ctx context.Context, threadID string) ([]domain.Email, error) {
	emails, err := s.emails.ListThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, domain.ErrNotFound
	}
	return emails, nil
}

// UpdateStatus sets the inbox status of an email.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.EmailStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.emails.UpdateEmailStatus(ctx, id, status)
}

// SendReply delivers a message and records it as an outbound email. A reply
// inherits the original's thread and marks the original as replied.
func (s *Service) SendReply(ctx context.Context, req SendRequest) (domain.Email, error) {
	to := strings.TrimSpace(req.To)
	if to == "" || strings.TrimSpace(req.Subject) == "" {
		return domain.Email{}, fmt.Errorf("%w: to and subject are required", domain.ErrValidation)
	}

	var original *domain.Email
	if req.ReplyToEmailID != "" {
		o, err := s.emails.GetEmail(ctx, req.ReplyToEmailID)
		if err != nil {
			return domain.Email{}, err
		}
		original = &o
	}

	out := domain.OutboundEmail{To: to, Subject: req.Subject, HTML: req.HTML}
	if original != nil {
		out.InReplyTo = original.MessageID
		out.References = references(*original)
	}

	messageID, err := s.sender.Send(ctx, out)
	if err != nil {
		s.logger.Error("Failed to send email", zap.String("to", to), zap.Error(err))
		return domain.Email{}, fmt.Errorf("send email: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return domain.Email{}, fmt.Errorf("generate email id: %w", err)
	}
	email := domain.Email{
		ID:          id,
		MessageID:   messageID,
		FromAddress: s.from,
		ToAddress:   to,
		Subject:     req.Subject,
		HTML:        req.HTML,
		ThreadID:    messageID,
		Direction:   domain.DirectionOutbound,
		Status:      domain.StatusSent,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if original != nil {
		if email.FromAddress == "" {
			email.FromAddress = original.ToAddress
		}
		email.ThreadID = original.ThreadID
		email.InReplyTo = &original.MessageID
		email.LeadID = original.LeadID
	}

	if err := s.emails.InsertEmail(ctx, email); err != nil {
		s.logger.Error("Sent email could not be recorded", zap.String("message_id", messageID), zap.Error(err))
		return domain.Email{}, err
	}

	if original != nil {
		if err := s.emails.UpdateEmailStatus(ctx, original.ID, domain.StatusReplied); err != nil {
			s.logger.Warn("Failed to mark original as replied", zap.String("id", original.ID), zap.Error(err))
		}
	}
	s.logger.Info("Email sent",
		zap.String("id", email.ID),
		zap.String("message_id", messageID),
		zap.String("thread_id", email.ThreadID),
	)
	return email, nil
}

// references chains the thread root and the replied-to message.
func references(original domain.Email) string {
	if original.ThreadID != "" && original.ThreadID != original.MessageID {
		return original.ThreadID + " " + original.MessageID
	}
	return original.MessageID
}
