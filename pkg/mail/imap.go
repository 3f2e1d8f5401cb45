package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPSearcher searches mailboxes over IMAP.
type IMAPSearcher struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewIMAPSearcher creates an IMAPSearcher.
func NewIMAPSearcher(logger *slog.Logger) *IMAPSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPSearcher{logger: logger, timeout: 30 * time.Second}
}

// Search implements Searcher. Messages from addr are preferred over messages to it; only
// the envelope of the first match is fetched.
func (s *IMAPSearcher) Search(ctx context.Context, acct *Account, password, addr string) ([]MessageMeta, error) {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	c, err := s.dial(acct, timeout)
	if err != nil {
		return nil, err
	}
	defer c.Logout() //nolint:errcheck // best effort
	c.Timeout = timeout

	if err := c.Login(acct.User, password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	mailbox := acct.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	var ids []uint32
	for _, field := range []string{"From", "To"} {
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add(field, addr)
		ids, err = c.Search(criteria)
		if err != nil {
			return nil, fmt.Errorf("imap search: %w", err)
		}
		if len(ids) > 0 {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(ids[0])
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seq, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var metas []MessageMeta
	for msg := range messages {
		if msg.Envelope != nil {
			metas = append(metas, fromEnvelope(msg.Envelope))
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	s.logger.DebugContext(ctx, "imap search finished", "server", acct.Server, "matches", len(ids))
	return metas, nil
}

func (*IMAPSearcher) dial(acct *Account, timeout time.Duration) (*client.Client, error) {
	port := acct.Port
	if port == 0 {
		port = 143
		if strings.EqualFold(acct.SSLType, "ssl") {
			port = 993
		}
	}
	addr := net.JoinHostPort(acct.Server, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: timeout}
	tlsConfig := &tls.Config{ServerName: acct.Server, MinVersion: tls.VersionTLS12}

	switch strings.ToLower(acct.SSLType) {
	case "ssl":
		c, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", addr, err)
		}
		return c, nil
	case "tls":
		c, err := client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", addr, err)
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout() //nolint:errcheck,gosec // already failing
			return nil, fmt.Errorf("imap starttls: %w", err)
		}
		return c, nil
	default:
		c, err := client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", addr, err)
		}
		return c, nil
	}
}

func fromEnvelope(env *imap.Envelope) MessageMeta {
	return MessageMeta{From: addresses(env.From), To: addresses(env.To)}
}

func addresses(list []*imap.Address) []Address {
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a == nil {
			continue
		}
		out = append(out, Address{Personal: a.PersonalName, Mailbox: a.MailboxName, Host: a.HostName})
	}
	return out
}
