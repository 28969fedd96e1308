package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("out-%d", s.n.Add(1)), nil
}

type fakeSender struct {
	sent []domain.OutboundEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg domain.OutboundEmail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<sent-%d@site.test>", len(f.sent)), nil
}

func newService(t *testing.T, from string) (*Service, *memory.EmailStore, *fakeSender) {
	t.Helper()
	store := memory.NewEmailStore()
	lead := "lead-1"
	reply := "<m1@example.com>"
	ctx := context.Background()
	require.NoError(t, store.InsertEmail(ctx, domain.Email{
		ID: "in-1", MessageID: "<m1@example.com>", ThreadID: "<m1@example.com>",
		FromAddress: "jane@example.com", ToAddress: "hello@site.test",
		Direction: domain.DirectionInbound, Status: domain.StatusUnread, LeadID: &lead,
		CreatedAt: time.Unix(100, 0),
	}))
	require.NoError(t, store.InsertEmail(ctx, domain.Email{
		ID: "in-2", MessageID: "<m2@example.com>", ThreadID: "<m1@example.com>", InReplyTo: &reply,
		FromAddress: "jane@example.com", ToAddress: "hello@site.test",
		Direction: domain.DirectionInbound, Status: domain.StatusUnread,
		CreatedAt: time.Unix(200, 0),
	}))
	sender := &fakeSender{}
	svc := NewService(store, sender, from, fixedClock{now: time.Unix(300, 0)}, &seqIDs{}, nil)
	return svc, store, sender
}

func TestSendReply_StaysOnThread(t *testing.T) {
	t.Parallel()

	svc, store, sender := newService(t, "team@site.test")
	email, err := svc.SendReply(context.Background(), SendRequest{
		To: "jane@example.com", Subject: "Re: Quote", HTML: "<p>Sure</p>", ReplyToEmailID: "in-2",
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "<m2@example.com>", sender.sent[0].InReplyTo)
	require.Equal(t, "<m1@example.com> <m2@example.com>", sender.sent[0].References)

	require.Equal(t, "<m1@example.com>", email.ThreadID)
	require.Equal(t, "<m2@example.com>", *email.InReplyTo)
	require.Equal(t, domain.DirectionOutbound, email.Direction)
	require.Equal(t, domain.StatusSent, email.Status)
	require.Equal(t, "team@site.test", email.FromAddress)

	original, err := store.GetEmail(context.Background(), "in-2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusReplied, original.Status)

	thread, err := svc.Thread(context.Background(), "<m1@example.com>")
	require.NoError(t, err)
	require.Equal(t, []string{"in-1", "in-2", "out-1"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
}

func TestSendReply_RootReplyKeepsLead(t *testing.T) {
	t.Parallel()

	svc, _, sender := newService(t, "team@site.test")
	email, err := svc.SendReply(context.Background(), SendRequest{To: "jane@example.com", Subject: "Re", ReplyToEmailID: "in-1"})
	require.NoError(t, err)
	require.Equal(t, "<m1@example.com>", sender.sent[0].References)
	require.NotNil(t, email.LeadID)
	require.Equal(t, "lead-1", *email.LeadID)
}

func TestSendReply_PlainSendStartsThread(t *testing.T) {
	t.Parallel()

	svc, store, sender := newService(t, "team@site.test")
	email, err := svc.SendReply(context.Background(), SendRequest{To: "new@example.com", Subject: "Hello"})
	require.NoError(t, err)
	require.Empty(t, sender.sent[0].InReplyTo)
	require.Equal(t, email.MessageID, email.ThreadID)
	require.Nil(t, email.InReplyTo)
	require.Equal(t, "team@site.test", email.FromAddress)

	stored, err := store.GetEmail(context.Background(), email.ID)
	require.NoError(t, err)
	require.Equal(t, "team@site.test", stored.FromAddress)
}

func TestSendReply_UnconfiguredFromUsesOriginalRecipient(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, "")
	email, err := svc.SendReply(context.Background(), SendRequest{To: "jane@example.com", Subject: "Re", ReplyToEmailID: "in-1"})
	require.NoError(t, err)
	require.Equal(t, "hello@site.test", email.FromAddress)
}

func TestSendReply_Errors(t *testing.T) {
	t.Parallel()

	svc, store, sender := newService(t, "team@site.test")
	_, err := svc.SendReply(context.Background(), SendRequest{Subject: "x"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.SendReply(context.Background(), SendRequest{To: "a@b.test", Subject: "x", ReplyToEmailID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, sender.sent)

	sender.err = errors.New("provider 500")
	_, err = svc.SendReply(context.Background(), SendRequest{To: "a@b.test", Subject: "x", ReplyToEmailID: "in-1"})
	require.Error(t, err)
	original, getErr := store.GetEmail(context.Background(), "in-1")
	require.NoError(t, getErr)
	require.Equal(t, domain.StatusUnread, original.Status)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	svc, store, _ := newService(t, "team@site.test")
	require.NoError(t, svc.UpdateStatus(context.Background(), "in-1", domain.StatusRead))
	got, err := store.GetEmail(context.Background(), "in-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRead, got.Status)

	require.ErrorIs(t, svc.UpdateStatus(context.Background(), "in-1", "archived"), domain.ErrValidation)
	require.ErrorIs(t, svc.UpdateStatus(context.Background(), "missing", domain.StatusRead), domain.ErrNotFound)
}

func TestListAndThread(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, "team@site.test")
	list, err := svc.List(context.Background(), domain.EmailFilter{Status: domain.StatusUnread})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "in-2", list[0].ID)

	_, err = svc.List(context.Background(), domain.EmailFilter{Status: "bogus"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.List(context.Background(), domain.EmailFilter{Direction: "sideways"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Thread(context.Background(), "<nope>")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
