package smtp

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/go-subscription-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmail_BuildsMessage(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "mail.local", SMTPPort: "1025", SMTPFrom: "noreply@example.com"})
	m.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  string
	)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	require.NoError(t, m.SendEmail("asha@example.com", "Reset your password", "Use this link."))
	assert.Equal(t, "mail.local:1025", gotAddr)
	assert.Nil(t, gotAuth)
	assert.Equal(t, []string{"asha@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: noreply@example.com\r\nTo: asha@example.com\r\nSubject: Reset your password\r\n"))
	assert.Contains(t, gotMsg, "Date: Sun, 01 Mar 2026 10:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nUse this link."))
}

func TestSendEmail_UsesAuthWhenConfigured(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "mail.local", SMTPPort: "587", SMTPUsername: "u", SMTPPassword: "p"})
	var gotAuth smtp.Auth
	m.send = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	}
	require.NoError(t, m.SendEmail("a@b.com", "s", "b"))
	assert.NotNil(t, gotAuth)
}

func TestSendEmail_RejectsHeaderInjection(t *testing.T) {
	m := NewMailer(&config.Config{})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	assert.Error(t, m.SendEmail("a@b.com\r\nBcc: x@y.com", "s", "b"))
	assert.Error(t, m.SendEmail("a@b.com", "s\nBcc: x@y.com", "b"))
}

func TestSendEmail_WrapsError(t *testing.T) {
	m := NewMailer(&config.Config{})
	boom := errors.New("dial tcp: connection refused")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	assert.ErrorIs(t, m.SendEmail("a@b.com", "s", "b"), boom)
}
