package pipeline

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSender(t *testing.T, failures int) (*EmailSender, *[]sentMail) {
	t.Helper()
	es, err := NewEmailSender("relay@example.com", "app-password", "ops@example.com, , editor@example.com", discardLogger())
	require.NoError(t, err)

	var sent []sentMail
	es.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if failures > 0 {
			failures--
			return errors.New("421 service not available")
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return es, &sent
}

func TestNewEmailSender_Validation(t *testing.T) {
	_, err := NewEmailSender("", "pw", "to@example.com", discardLogger())
	assert.Error(t, err)
	_, err = NewEmailSender("from@example.com", "", "to@example.com", discardLogger())
	assert.Error(t, err)
	_, err = NewEmailSender("from@example.com", "pw", "", discardLogger())
	assert.Error(t, err)
}

func TestEmailSender_SendFailureReport(t *testing.T) {
	es, sent := newTestSender(t, 0)
	at := time.Date(2025, time.January, 5, 10, 0, 0, 0, time.UTC)

	err := es.SendFailureReport(context.Background(), FailureReport{
		RunID:      "run-1",
		ListingURL: "https://example.com/disclosures",
		ItemErrors: []ItemError{{
			Record:  Record{Title: "Acme Corp reports Q4 results", SourceURL: "https://example.com/news/acme"},
			Message: "create: POST /items: status 500",
		}},
		At: at,
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.gmail.com:587", mail.addr)
	assert.Equal(t, "relay@example.com", mail.from)
	assert.Equal(t, []string{"ops@example.com", "editor@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "To: ops@example.com, editor@example.com\r\n")
	assert.Contains(t, mail.msg, "Subject: Disclosure relay: 1 item error(s) - 2025-01-05 10:00\r\n")
	assert.Contains(t, mail.msg, "\r\n\r\nDisclosure relay run report\n")
	assert.Contains(t, mail.msg, "[1] Acme Corp reports Q4 results\n")
}

func TestEmailSender_RetriesTransientSMTPFailure(t *testing.T) {
	es, sent := newTestSender(t, 1)

	err := es.SendFailureReport(context.Background(), FailureReport{Err: errors.New("boom"), At: time.Now()})
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "Subject: Disclosure relay: run failed - ")
}

func TestEmailSender_NothingToReport(t *testing.T) {
	es, sent := newTestSender(t, 0)
	assert.Error(t, es.SendFailureReport(context.Background(), FailureReport{At: time.Now()}))
	assert.Empty(t, *sent)
}

func TestGenerateFailureBody(t *testing.T) {
	body := generateFailureBody(FailureReport{
		RunID:      "run-9",
		ListingURL: "https://example.com/disclosures",
		Err:        errors.New("cms pre-flight: status 401"),
		At:         time.Date(2025, time.January, 5, 10, 0, 0, 0, time.UTC),
	})

	assert.True(t, strings.HasPrefix(body, "Disclosure relay run report\nRun ID:  run-9\n"))
	assert.Contains(t, body, "Time:    2025-01-05 10:00:00 UTC\n")
	assert.Contains(t, body, "Fatal error:\n    cms pre-flight: status 401\n")
	assert.NotContains(t, body, "Item errors")
	assert.True(t, strings.HasSuffix(body, "Generated by disclosure-relay\n"))
}
