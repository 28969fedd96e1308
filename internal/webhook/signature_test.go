package webhook

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var (
	testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-key"))
	testNow    = time.Unix(1_700_000_000, 0)
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, 0, fixedClock{now: testNow})
	require.NoError(t, err)
	return v
}

func TestVerify_AcceptsValidSignature(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := []byte(`{"type":"email.received"}`)
	h := v.Sign("msg_1", testNow, body)

	require.NoError(t, v.Verify(body, h))
	require.True(t, v.Valid(body, h))
}

func TestVerify_SecretWithoutPrefix(t *testing.T) {
	t.Parallel()

	plain, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("super-secret-key")), 0, fixedClock{now: testNow})
	require.NoError(t, err)
	body := []byte("{}")
	require.NoError(t, plain.Verify(body, newTestVerifier(t).Sign("id", testNow, body)))
}

func TestVerify_MultipleEntriesOnlyV1(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := []byte("payload")
	good := v.Sign("msg_1", testNow, body)
	sig := good.Signature[len("v1,"):]

	h := good
	h.Signature = "v1,bm90LWl0 v2," + sig + " " + good.Signature
	require.NoError(t, v.Verify(body, h))

	h.Signature = "v2," + sig
	require.ErrorIs(t, v.Verify(body, h), ErrSignatureMismatch)
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := []byte("payload")
	good := v.Sign("msg_1", testNow, body)

	tests := []struct {
		name string
		body []byte
		h    Headers
		want error
	}{
		{name: "missing id", body: body, h: Headers{Timestamp: good.Timestamp, Signature: good.Signature}, want: ErrMissingHeaders},
		{name: "missing timestamp", body: body, h: Headers{ID: good.ID, Signature: good.Signature}, want: ErrMissingHeaders},
		{name: "missing signature", body: body, h: Headers{ID: good.ID, Timestamp: good.Timestamp}, want: ErrMissingHeaders},
		{name: "garbage timestamp", body: body, h: Headers{ID: good.ID, Timestamp: "yesterday", Signature: good.Signature}, want: ErrInvalidTimestamp},
		{name: "tampered body", body: []byte("payload!"), h: good, want: ErrSignatureMismatch},
		{name: "different id", body: body, h: Headers{ID: "msg_2", Timestamp: good.Timestamp, Signature: good.Signature}, want: ErrSignatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, v.Verify(tt.body, tt.h), tt.want)
		})
	}
}

// A correctly signed delivery outside the replay window is rejected.
func TestVerify_ReplayWindow(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := []byte("payload")

	for _, offset := range []time.Duration{301 * time.Second, -301 * time.Second, time.Hour} {
		h := v.Sign("msg_1", testNow.Add(-offset), body)
		require.ErrorIs(t, v.Verify(body, h), ErrTimestampOutOfRange, "offset %v", offset)
	}

	for _, offset := range []time.Duration{300 * time.Second, -300 * time.Second, 0} {
		h := v.Sign("msg_1", testNow.Add(-offset), body)
		require.NoError(t, v.Verify(body, h), "offset %v", offset)
	}
}

func TestNewVerifier_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier("", 0, fixedClock{})
	require.Error(t, err)
	_, err = NewVerifier("whsec_!!!not-base64", 0, fixedClock{})
	require.Error(t, err)
}

func TestSign_TimestampFormat(t *testing.T) {
	t.Parallel()

	h := newTestVerifier(t).Sign("id", testNow, nil)
	require.Equal(t, strconv.FormatInt(testNow.Unix(), 10), h.Timestamp)
	require.Contains(t, h.Signature, "v1,")
}
