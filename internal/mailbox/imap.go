package mailbox

import (
	"context"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

// FlagFailed marks a message whose issue could not be created.
const FlagFailed imap.Flag = "$RedmineFailed"

// Mailbox is the IMAP surface the poller needs.
type Mailbox interface {
	FetchUnseen(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, uid uint32, failed bool) error
}

// IMAPClient wraps go-imap v2 for one mailbox on one account. Every
// operation runs in its own session.
type IMAPClient struct {
	addr     string
	username string
	password string
	mailbox  string
	tls      bool
}

var _ Mailbox = (*IMAPClient)(nil)

// NewIMAPClient creates an IMAP client from cfg and the account password.
func NewIMAPClient(cfg model.MailConfig, password string) *IMAPClient {
	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	port := cfg.Port
	if port == "" {
		port = "993"
	}
	return &IMAPClient{
		addr:     net.JoinHostPort(cfg.Host, port),
		username: cfg.Username,
		password: password,
		mailbox:  mailbox,
		tls:      cfg.TLS,
	}
}

// connect dials, authenticates and selects the mailbox. The caller must
// log out. The session is closed early if ctx is cancelled.
func (c *IMAPClient) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(c.addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(c.addr, nil)
	}
	if err != nil {
		return nil, nil, &source.ConnectionError{Op: "imap dial", Err: fmt.Errorf("connecting to %s: %w", c.addr, err)}
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	done := func() {
		stop()
		_ = client.Logout().Wait()
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		done()
		return nil, nil, &source.AuthError{
			Message: fmt.Sprintf("imap authentication failed for %s: %v", c.username, err),
		}
	}

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		done()
		return nil, nil, &source.ConnectionError{Op: "imap select", Err: fmt.Errorf("selecting %s: %w", c.mailbox, err)}
	}

	return client, done, nil
}

// FetchUnseen returns up to limit unseen messages, oldest first, without
// marking them as seen.
func (c *IMAPClient) FetchUnseen(ctx context.Context, limit int) ([]Message, error) {
	client, done, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var messages []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}

		buf, err := data.Collect()
		if err != nil {
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			// Keep the UID so the poller can flag it as failed.
			msg = Message{}
		}
		msg.UID = uint32(buf.UID)
		messages = append(messages, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}

// MarkProcessed flags a message as seen, plus FlagFailed when failed.
func (c *IMAPClient) MarkProcessed(ctx context.Context, uid uint32, failed bool) error {
	client, done, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	flags := []imap.Flag{imap.FlagSeen}
	if failed {
		flags = append(flags, FlagFailed)
	}

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging message %d: %w", uid, err)
	}
	return nil
}
