package webhook

import (
	"context"
	"errors"
	"strings"

	_ "github.com/emersion/go-message/charset" // RFC 2047 charsets for sender names
	"github.com/emersion/go-message/mail"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/metrics"
	"github.com/JakeFAU/sitecore/internal/telemetry"
)

// EventEmailReceived is the only delivery type that is processed.
const EventEmailReceived = "email.received"

// Event is the thin webhook payload; full content is fetched separately.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData points at the received message.
type EventData struct {
	EmailID string `json:"email_id"`
	From    string `json:"from"`
	To      any    `json:"to"`
	Subject string `json:"subject"`
}

// Outcome classifies what happened to a verified delivery.
type Outcome string

// Processing outcomes. Every one of them is acknowledged with 200.
const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeStored      Outcome = "stored"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeStoreFailed Outcome = "store_failed"
)

// Result reports the outcome of Process.
type Result struct {
	Outcome   Outcome
	ID        string
	MessageID string
	ThreadID  string
	LeadID    string
	Err       error
}

// Duplicate reports whether the delivery was an idempotent replay.
func (r Result) Duplicate() bool {
	return r.Outcome == OutcomeDuplicate
}

// LeadStatus distinguishes why a message was or was not linked to a lead.
type LeadStatus string

// Lead lookup statuses. Only LeadFound links the email.
const (
	LeadFound        LeadStatus = "found"
	LeadNotFound     LeadStatus = "not_found"
	LeadLookupFailed LeadStatus = "lookup_failed"
)

// LeadMatch is the result of the best-effort lead lookup.
type LeadMatch struct {
	ID     string
	Status LeadStatus
	Err    error
}

// Processor turns verified deliveries into stored emails.
type Processor struct {
	fetcher   domain.MessageFetcher
	emails    domain.EmailStore
	leads     domain.LeadStore
	publisher domain.Publisher
	topic     string
	clock     domain.Clock
	ids       domain.IDGenerator
	logger    *zap.Logger
}

// Deps bundles Processor collaborators. Publisher is optional.
type Deps struct {
	Fetcher   domain.MessageFetcher
	Emails    domain.EmailStore
	Leads     domain.LeadStore
	Publisher domain.Publisher
	Topic     string
	Clock     domain.Clock
	IDs       domain.IDGenerator
	Logger    *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(d Deps) *Processor {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetcher:   d.Fetcher,
		emails:    d.Emails,
		leads:     d.Leads,
		publisher: d.Publisher,
		topic:     d.Topic,
		clock:     d.Clock,
		ids:       d.IDs,
		logger:    logger.Named("webhook"),
	}
}

// Process handles a delivery whose signature has already been verified.
func (p *Processor) Process(ctx context.Context, ev Event) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "webhook.Process")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.type", ev.Type), attribute.String("email.provider_id", ev.Data.EmailID))

	res := p.process(ctx, ev)
	span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	metrics.ObserveWebhook(string(res.Outcome))
	return res
}

func (p *Processor) process(ctx context.Context, ev Event) Result {
	if ev.Type != EventEmailReceived {
		p.logger.Info("Ignoring webhook event", zap.String("type", ev.Type))
		return Result{Outcome: OutcomeIgnored}
	}

	msg, err := p.fetcher.GetReceivedEmail(ctx, ev.Data.EmailID)
	if err != nil {
		p.logger.Error("Failed to fetch received email; dropping delivery",
			zap.String("email_id", ev.Data.EmailID), zap.Error(err))
		return Result{Outcome: OutcomeFetchFailed, Err: err}
	}

	email, err := p.buildEmail(ev, msg)
	if err != nil {
		p.logger.Error("Failed to build email record", zap.Error(err))
		return Result{Outcome: OutcomeStoreFailed, Err: err}
	}
	logger := p.logger.With(zap.String("message_id", email.MessageID), zap.String("thread_id", email.ThreadID))

	match := p.lookupLead(ctx, email.FromAddress)
	switch match.Status {
	case LeadFound:
		email.LeadID = &match.ID
	case LeadLookupFailed:
		logger.Warn("Lead lookup failed; storing unlinked", zap.Error(match.Err))
	}

	res := Result{ID: email.ID, MessageID: email.MessageID, ThreadID: email.ThreadID, LeadID: match.ID}
	if err := p.emails.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			logger.Info("Duplicate webhook delivery")
			res.Outcome = OutcomeDuplicate
			res.ID = ""
			return res
		}
		logger.Error("Failed to store inbound email", zap.Error(err))
		res.Outcome = OutcomeStoreFailed
		res.Err = err
		return res
	}

	res.Outcome = OutcomeStored
	logger.Info("Stored inbound email", zap.String("id", email.ID), zap.Bool("lead_linked", email.LeadID != nil))
	p.publish(ctx, email)
	return res
}

func (p *Processor) buildEmail(ev Event, msg domain.InboundMessage) (domain.Email, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return domain.Email{}, err
	}

	messageID := strings.TrimSpace(msg.MessageID)
	if messageID == "" {
		messageID = ev.Data.EmailID
	}

	fromRaw := firstNonEmpty(msg.From, ev.Data.From)
	address, name := ParseSender(fromRaw)
	if msg.FromName != "" {
		name = msg.FromName
	}

	email := domain.Email{
		ID:          id,
		MessageID:   messageID,
		FromAddress: address,
		FromName:    name,
		ToAddress:   firstNonEmpty(msg.To, recipient(ev.Data.To)),
		Subject:     firstNonEmpty(msg.Subject, ev.Data.Subject),
		HTML:        msg.HTML,
		Text:        msg.Text,
		ThreadID:    ThreadID(messageID, msg.InReplyTo),
		Direction:   domain.DirectionInbound,
		Status:      domain.StatusUnread,
		CreatedAt:   p.clock.Now().UTC(),
	}
	if reply := strings.TrimSpace(msg.InReplyTo); reply != "" {
		email.InReplyTo = &reply
	}
	return email, nil
}

func (p *Processor) lookupLead(ctx context.Context, address string) LeadMatch {
	if p.leads == nil || address == "" {
		return LeadMatch{Status: LeadNotFound}
	}
	id, err := p.leads.FindLeadIDByEmail(ctx, address)
	switch {
	case err == nil:
		return LeadMatch{ID: id, Status: LeadFound}
	case errors.Is(err, domain.ErrNotFound):
		return LeadMatch{Status: LeadNotFound}
	default:
		return LeadMatch{Status: LeadLookupFailed, Err: err}
	}
}

func (p *Processor) publish(ctx context.Context, email domain.Email) {
	if p.publisher == nil {
		return
	}
	event := domain.Event{
		Type:       domain.EventEmailReceived,
		OccurredAt: email.CreatedAt,
		Attributes: map[string]string{
			"email_id":   email.ID,
			"message_id": email.MessageID,
			"thread_id":  email.ThreadID,
		},
	}
	if email.LeadID != nil {
		event.Attributes["lead_id"] = *email.LeadID
	}
	if _, err := p.publisher.Publish(ctx, p.topic, event); err != nil {
		p.logger.Warn("Failed to publish email event", zap.String("message_id", email.MessageID), zap.Error(err))
	}
}

// ThreadID is in_reply_to when present, otherwise the message's own id.
func ThreadID(messageID, inReplyTo string) string {
	if reply := strings.TrimSpace(inReplyTo); reply != "" {
		return reply
	}
	return messageID
}

// ParseSender splits a From header value into a lowercase address and display name.
func ParseSender(from string) (address, name string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address), addr.Name
	}
	return strings.ToLower(from), ""
}

// recipient flattens the payload "to" field, which may be a string or a list.
func recipient(v any) string {
	switch to := v.(type) {
	case string:
		return to
	case []any:
		for _, item := range to {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
