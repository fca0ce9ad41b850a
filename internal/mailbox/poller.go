package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

// PollState represents the current state of the intake loop.
type PollState int

const (
	PollIdle PollState = iota
	PollRunning
	PollError
)

func (s PollState) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollRunning:
		return "running"
	case PollError:
		return "error"
	default:
		return "unknown"
	}
}

// PollStatus is a snapshot of the intake loop.
type PollStatus struct {
	State     PollState
	LastPoll  time.Time
	Created   int
	Failed    int
	LastError error
}

// PollResult summarizes one pass over the mailbox.
type PollResult struct {
	Created []model.CreatedIssue
	Failed  int
}

// IssueCreator runs the create-issue action for a connection.
type IssueCreator interface {
	CreateIssue(ctx context.Context, ref string, req model.IssueRequest, origin string) (model.CreatedIssue, error)
}

const (
	// pollTimeout bounds one pass, including every issue it creates.
	pollTimeout = 2 * time.Minute

	// batchSize caps the messages handled per pass.
	batchSize = 25

	defaultInterval = 60 * time.Second
)

// Poller periodically turns unseen messages into issues. Each message is
// attempted once: it is flagged seen whatever the outcome, and failures
// additionally get FlagFailed.
type Poller struct {
	mailbox    Mailbox
	creator    IssueCreator
	connection string
	interval   time.Duration
	logger     *logging.Logger

	triggerCh chan struct{}

	mu     sync.Mutex
	status PollStatus
}

// NewPoller creates a poller that files issues on the connection named by ref.
func NewPoller(
	mb Mailbox,
	creator IssueCreator,
	ref string,
	interval time.Duration,
	logger *logging.Logger,
) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Poller{
		mailbox:    mb,
		creator:    creator,
		connection: ref,
		interval:   interval,
		logger:     logger.WithComponent("mailbox"),
		triggerCh:  make(chan struct{}, 1),
	}
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollAndLog(ctx)
		case <-p.triggerCh:
			p.pollAndLog(ctx)
		}
	}
}

// Refresh requests an immediate pass without blocking.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the loop state.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) pollAndLog(ctx context.Context) {
	result, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error("mailbox poll failed", "kind", source.Kind(err), "error", err)
		return
	}
	if len(result.Created) > 0 || result.Failed > 0 {
		p.logger.Info("mailbox poll complete", "created", len(result.Created), "failed", result.Failed)
	}
}

// PollOnce fetches unseen messages and files an issue for each.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	p.setState(PollRunning, nil)

	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	messages, err := p.mailbox.FetchUnseen(ctx, batchSize)
	if err != nil {
		p.setState(PollError, err)
		return PollResult{}, err
	}

	var result PollResult
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}

		logger := p.logger.With("uid", msg.UID, "message_id", msg.MessageID)

		created, createErr := p.creator.CreateIssue(ctx, p.connection, msg.IssueRequest(), model.OriginMail)
		failed := createErr != nil
		if failed {
			result.Failed++
			logger.Warn("message rejected",
				"from", msg.From,
				"kind", source.Kind(createErr),
				"field", source.Field(createErr),
				"error", createErr,
			)
		} else {
			result.Created = append(result.Created, created)
			logger.Info("issue created from mail", "issue_id", created.ID, "url", created.URL)
		}

		if err := p.mailbox.MarkProcessed(ctx, msg.UID, failed); err != nil {
			// The message stays unseen and is retried on the next pass.
			logger.Error("failed to flag message", "error", err)
		}
	}

	p.mu.Lock()
	p.status.State = PollIdle
	p.status.LastPoll = time.Now()
	p.status.Created += len(result.Created)
	p.status.Failed += result.Failed
	p.status.LastError = nil
	p.mu.Unlock()

	return result, nil
}

func (p *Poller) setState(state PollState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
	if err != nil {
		p.status.LastError = err
	}
}
