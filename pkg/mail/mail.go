// Package mail probes email addresses for which no federation protocol answered.
package mail

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/codeGROOVE-dev/fedprobe/pkg/gravatar"
	"github.com/codeGROOVE-dev/fedprobe/pkg/htmlutil"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

var (
	// ErrInvalidAddress is returned for strings that are not email addresses.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrNoAccount means the user has no usable mail account.
	ErrNoAccount = errors.New("no mail account")
	// ErrNoMessages means the mailbox holds nothing from or to the address.
	ErrNoMessages = errors.New("no messages for address")
)

var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Account is a user's IMAP account as stored by the directory.
type Account struct {
	Server  string
	Port    int
	SSLType string // "ssl", "tls" or "notls"
	Mailbox string
	User    string
	// EncryptedPass is the hex encoded RSA PKCS#1 v1.5 ciphertext of the password.
	EncryptedPass string
	// PrivateKey is the owning user's PEM private key.
	PrivateKey string
}

// AccountSource looks up the mail account of a local user.
type AccountSource interface {
	MailAccount(ctx context.Context, uid int64) (*Account, error)
}

// Address is one parsed mailbox address.
type Address struct {
	Personal string
	Mailbox  string
	Host     string
}

// MessageMeta is the envelope data of a message.
type MessageMeta struct {
	From []Address
	To   []Address
}

// Searcher finds messages exchanged with addr in an account's mailbox.
type Searcher interface {
	Search(ctx context.Context, acct *Account, password, addr string) ([]MessageMeta, error)
}

// Prober builds mail records.
type Prober struct {
	accounts AccountSource
	searcher Searcher
	logger   *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithAccounts sets the source of per-user mail accounts.
func WithAccounts(src AccountSource) Option {
	return func(p *Prober) { p.accounts = src }
}

// WithSearcher replaces the mailbox searcher.
func WithSearcher(s Searcher) Option {
	return func(p *Prober) { p.searcher = s }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) { p.logger = logger }
}

// New creates a Prober. Without options it only builds address-derived records.
func New(opts ...Option) *Prober {
	p := &Prober{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.searcher == nil {
		p.searcher = NewIMAPSearcher(p.logger)
	}
	return p
}

// Probe returns a mail record for addr. With uid 0 the record is derived from the address
// alone; otherwise uid's mailbox must contain a message exchanged with addr, and the
// sender's display name is taken from it.
func (p *Prober) Probe(ctx context.Context, addr string, uid int64) (*profile.Profile, error) {
	addr = strings.TrimSpace(addr)
	if !addressPattern.MatchString(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	nick, host, _ := strings.Cut(addr, "@")

	var first *MessageMeta
	if uid != 0 {
		msgs, err := p.search(ctx, addr, uid)
		if err != nil {
			return nil, err
		}
		first = &msgs[0]
	}

	pr := &profile.Profile{
		Network: profile.NetworkMail,
		Addr:    addr,
		Name:    nick,
		Nick:    nick,
		Photo:   gravatar.AvatarURL(addr, gravatar.DefaultSize),
		URL:     "mailto:" + addr,
		Notify:  "smtp " + randomMarker(),
		Poll:    "email " + randomMarker(),
	}
	if first != nil {
		if name := displayName(first, addr, nick, host); name != "" {
			pr.Name = name
		}
	}
	return pr, nil
}

func (p *Prober) search(ctx context.Context, addr string, uid int64) ([]MessageMeta, error) {
	if p.accounts == nil {
		return nil, ErrNoAccount
	}
	acct, err := p.accounts.MailAccount(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAccount, err)
	}
	if acct == nil || acct.Server == "" {
		return nil, ErrNoAccount
	}
	password, err := DecryptPassword(acct.EncryptedPass, acct.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAccount, err)
	}

	msgs, err := p.searcher.Search(ctx, acct, password, addr)
	if err != nil {
		return nil, fmt.Errorf("search mailbox: %w", err)
	}
	p.logger.DebugContext(ctx, "mailbox searched", "addr", addr, "messages", len(msgs))
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	return msgs, nil
}

// displayName picks the personal name attached to addr in the message's From list, or
// its To list when addr only received the message.
func displayName(msg *MessageMeta, addr, nick, host string) string {
	list := msg.To
	if containsAddress(msg.From, addr) {
		list = msg.From
	}

	var name string
	for _, a := range list {
		if strings.EqualFold(a.Mailbox, nick) && strings.EqualFold(a.Host, host) && a.Personal != "" {
			name = htmlutil.StripTags(decodeWords(a.Personal))
		}
	}
	return name
}

func containsAddress(list []Address, addr string) bool {
	for _, a := range list {
		if strings.EqualFold(a.Mailbox+"@"+a.Host, addr) {
			return true
		}
	}
	return false
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(label, input)
	},
}

func decodeWords(s string) string {
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// DecryptPassword decrypts a hex encoded PKCS#1 v1.5 ciphertext with a PEM private key.
func DecryptPassword(hexCipher, privateKeyPEM string) (string, error) {
	ciphertext, err := hex.DecodeString(strings.TrimSpace(hexCipher))
	if err != nil {
		return "", fmt.Errorf("decode password: %w", err)
	}
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return "", errors.New("private key is not PEM")
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("parse private key: %w", err)
		}
		rk, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("private key is %T, want RSA", parsed)
		}
		key = rk
	}

	plain, err := rsa.DecryptPKCS1v15(nil, key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt password: %w", err)
	}
	return string(plain), nil
}

func randomMarker() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
