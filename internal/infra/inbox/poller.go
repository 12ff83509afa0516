package inbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/lead"
)

// Session is the part of an IMAP client connection the poller uses.
// *client.Client satisfies it.
type Session interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// Dialer opens a logged-in session.
type Dialer func() (Session, error)

type Config struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	TLS      bool
}

// DialIMAP returns a Dialer for the configured server.
func DialIMAP(cfg Config) Dialer {
	return func() (Session, error) {
		var (
			c   *client.Client
			err error
		)
		if cfg.TLS {
			host := cfg.Addr
			if i := strings.LastIndex(host, ":"); i > 0 {
				host = host[:i]
			}
			c, err = client.DialTLS(cfg.Addr, &tls.Config{ServerName: host})
		} else {
			c, err = client.Dial(cfg.Addr)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
		}
		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
		}
		return c, nil
	}
}

// ReplyRecorder is told about every sender found in the inbox.
type ReplyRecorder interface {
	OnReplyFromAddress(ctx context.Context, address string) (*automation.Record, error)
}

// ReplyPoller scans a mailbox for new messages and flags their senders as
// replied leads. It remembers the last UID it has seen.
type ReplyPoller struct {
	dial     Dialer
	mailbox  string
	recorder ReplyRecorder
	ignore   map[string]bool
	lookback time.Duration
	now      func() time.Time
	logger   *logrus.Entry

	mu          sync.Mutex
	lastUID     uint32
	uidValidity uint32
}

// NewReplyPoller builds a poller. Messages from ignore (our own addresses) are
// skipped; the first scan looks back lookback from the current time.
func NewReplyPoller(dial Dialer, mailbox string, recorder ReplyRecorder, ignore []string, lookback time.Duration, logger *logrus.Entry) *ReplyPoller {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	skip := make(map[string]bool, len(ignore))
	for _, addr := range ignore {
		if addr = normalize(addr); addr != "" {
			skip[addr] = true
		}
	}
	return &ReplyPoller{
		dial:     dial,
		mailbox:  mailbox,
		recorder: recorder,
		ignore:   skip,
		lookback: lookback,
		now:      time.Now,
		logger:   logger.WithField("component", "reply_poller"),
	}
}

// CheckReplies runs one scan and returns the number of replies recorded.
// Concurrent calls are serialized.
func (p *ReplyPoller) CheckReplies(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, err := p.dial()
	if err != nil {
		return 0, err
	}
	defer session.Logout()

	status, err := session.Select(p.mailbox, true)
	if err != nil {
		return 0, fmt.Errorf("failed to select mailbox %s: %w", p.mailbox, err)
	}
	if status.UidValidity != p.uidValidity {
		if p.uidValidity != 0 {
			p.logger.Warn("Mailbox UIDVALIDITY changed, rescanning")
		}
		p.uidValidity = status.UidValidity
		p.lastUID = 0
	}

	criteria := imap.NewSearchCriteria()
	if p.lastUID == 0 {
		criteria.Since = p.now().Add(-p.lookback)
	} else {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(p.lastUID+1, 0)
	}
	uids, err := session.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search messages: %w", err)
	}

	// "N:*" always matches the newest message, even when it is older than N.
	fresh := uids[:0]
	for _, uid := range uids {
		if uid > p.lastUID {
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(fresh...)
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- session.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var senders []string
	maxUID := p.lastUID
	for msg := range messages {
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
		if msg.Envelope != nil {
			senders = append(senders, replyAddresses(msg.Envelope)...)
		}
	}
	if err := <-done; err != nil {
		return 0, fmt.Errorf("error during fetch: %w", err)
	}

	recorded := 0
	seen := make(map[string]bool)
	for _, addr := range senders {
		if seen[addr] || p.ignore[addr] {
			continue
		}
		seen[addr] = true
		_, err := p.recorder.OnReplyFromAddress(ctx, addr)
		switch {
		case err == nil:
			recorded++
		case errors.Is(err, lead.ErrNotFound), errors.Is(err, automation.ErrNotFound):
			p.logger.WithField("from", addr).Debug("Message from unknown sender ignored")
		default:
			// Keep lastUID so the batch is retried next time.
			return recorded, fmt.Errorf("failed to record reply from %s: %w", addr, err)
		}
	}

	p.lastUID = maxUID
	return recorded, nil
}

// replyAddresses lists the sender addresses of a message, Reply-To first.
func replyAddresses(env *imap.Envelope) []string {
	var out []string
	for _, list := range [][]*imap.Address{env.ReplyTo, env.From, env.Sender} {
		for _, a := range list {
			if a == nil || a.MailboxName == "" || a.HostName == "" {
				continue
			}
			addr := normalize(a.MailboxName + "@" + a.HostName)
			dup := false
			for _, o := range out {
				if o == addr {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, addr)
			}
		}
	}
	return out
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
