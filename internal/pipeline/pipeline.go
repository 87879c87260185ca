// Package pipeline runs one user message through the chat round trip:
// local echo, typing indicator, remote call, reply or fallback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/api"
	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/logging"
	"github.com/kingrea/chatup/internal/session"
)

// FallbackReply is appended as the bot's message when the round trip fails.
const FallbackReply = "Sorry, I'm having trouble connecting to the server."

// Stage is the position of one send in its lifecycle.
type Stage int

const (
	StageIdle Stage = iota
	StageComposing
	StageAwaitingReply
	StageResolved
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageComposing:
		return "composing"
	case StageAwaitingReply:
		return "awaiting-reply"
	case StageResolved:
		return "resolved"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sender delivers a message to the chat service.
type Sender interface {
	SendMessage(ctx context.Context, req api.ChatRequest) (api.ChatReply, error)
}

// Transcript receives every message appended to a conversation.
type Transcript interface {
	AppendMessage(conversationID string, msg conversation.Message)
}

// Indicator is the shared typing indicator.
type Indicator interface {
	ShowTyping(conversationID string)
	HideTyping(conversationID string)
}

// Refresher schedules a history reload. Implementations must not block.
type Refresher interface {
	Refresh(ctx context.Context)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) {
	f(ctx)
}

// Recorder persists local changes and adopts server ids for drafts.
type Recorder interface {
	Save(ctx context.Context, conv conversation.Conversation) error
	Adopt(ctx context.Context, localID, serverID string) (conversation.Conversation, error)
}

// Pending is a send that has been echoed locally and awaits its reply.
type Pending struct {
	ConversationID string
	Message        conversation.Message
	Created        bool
	Stage          Stage
	Skipped        bool

	target string
	chatID string
	local  bool
	after  *draftGate
	gate   *draftGate
}

// draftGate orders sends on a conversation the server has not acknowledged
// yet. Each send waits for the previous one and continues under the id it
// left the conversation with.
type draftGate struct {
	done     chan struct{}
	resolved string
}

// Result describes how a send ended.
type Result struct {
	ConversationID string
	Reply          conversation.Message
	Stage          Stage
	Created        bool
	Skipped        bool
	Err            error
}

// Pipeline is safe to share: Begin runs on the UI loop and Complete may run
// on any goroutine.
type Pipeline struct {
	sender     Sender
	state      *session.State
	recorder   Recorder
	transcript Transcript
	indicator  Indicator
	refresher  Refresher
	ids        *conversation.IDGenerator
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	drafts map[string]*draftGate
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTranscript sets the transcript listener.
func WithTranscript(t Transcript) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.transcript = t
		}
	}
}

// WithIndicator sets the typing indicator.
func WithIndicator(i Indicator) Option {
	return func(p *Pipeline) {
		if i != nil {
			p.indicator = i
		}
	}
}

// WithRefresher sets what runs after each successful round trip.
func WithRefresher(r Refresher) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.refresher = r
		}
	}
}

// WithRecorder sets the persistence hook.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(logger)
	}
}

// WithClock overrides time.Now for message timestamps and new ids.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithIDGenerator shares an id generator with other creators.
func WithIDGenerator(g *conversation.IDGenerator) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.ids = g
		}
	}
}

type nopTranscript struct{}

func (nopTranscript) AppendMessage(string, conversation.Message) {}

type nopIndicator struct{}

func (nopIndicator) ShowTyping(string) {}
func (nopIndicator) HideTyping(string) {}

// New builds a pipeline sending through sender on behalf of state's user.
func New(sender Sender, state *session.State, opts ...Option) *Pipeline {
	p := &Pipeline{
		sender:     sender,
		state:      state,
		transcript: nopTranscript{},
		indicator:  nopIndicator{},
		refresher:  RefresherFunc(func(context.Context) {}),
		timeout:    api.DefaultTimeout,
		logger:     zap.NewNop(),
		now:        time.Now,
		drafts:     make(map[string]*draftGate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.ids == nil {
		p.ids = conversation.NewIDGenerator(p.now)
	}
	return p
}

// Begin validates text, creates a conversation when none is active, echoes
// the user message and shows the typing indicator. Blank input is skipped
// without touching any state.
func (p *Pipeline) Begin(ctx context.Context, text string) Pending {
	text = strings.TrimSpace(text)
	if text == "" {
		return Pending{Stage: StageIdle, Skipped: true}
	}
	cache := p.state.Cache()
	pending := Pending{Stage: StageComposing}

	id, ok := p.state.Active()
	switch {
	case !ok:
		conv := conversation.New(p.ids.Next(), p.now())
		conv.Title = conversation.TitleFrom(text)
		conv.Local = true
		cache.Upsert(conv)
		id = conv.ID
		pending.Created = true
		if err := p.state.SetActive(ctx, id); err != nil {
			p.logger.Warn("persist active conversation", zap.String("id", id), zap.Error(err))
		}
	case !cache.Has(id):
		// Pointer restored before the history arrived.
		cache.Upsert(conversation.New(id, p.now()))
	}

	msg := conversation.Message{Text: text, Sender: conversation.SenderUser, Timestamp: p.now().UTC()}
	conv, err := cache.Append(id, msg)
	if err != nil {
		// The draft was adopted between the lookup and the append.
		if current, ok := p.state.Active(); ok && current != id {
			id = current
			conv, err = cache.Append(id, msg)
		}
	}
	if err != nil {
		p.logger.Warn("append user message", zap.String("id", id), zap.Error(err))
	}
	p.save(ctx, conv)
	p.transcript.AppendMessage(id, msg)

	pending.ConversationID = id
	pending.target = id
	pending.Message = msg
	pending.local = conv.Local
	if conv.Local {
		p.mu.Lock()
		pending.after = p.drafts[id]
		pending.gate = &draftGate{done: make(chan struct{})}
		p.drafts[id] = pending.gate
		p.mu.Unlock()
	} else {
		pending.chatID = id
	}
	p.indicator.ShowTyping(id)
	pending.Stage = StageAwaitingReply
	return pending
}

// Complete performs the remote call for pending and appends the reply, or
// the fallback on any failure. The indicator is hidden before either append.
// Sends on the same unacknowledged draft complete in the order they began,
// and later ones reuse the server id the first one adopted.
func (p *Pipeline) Complete(ctx context.Context, pending Pending) Result {
	if pending.Skipped {
		return Result{Stage: StageIdle, Skipped: true}
	}
	if pending.gate != nil {
		defer func() { p.release(pending) }()
	}
	result := Result{Created: pending.Created}

	reply, err := p.dispatch(ctx, &pending)
	result.ConversationID = pending.target
	text := reply.Response
	result.Stage = StageResolved
	if err != nil {
		p.logger.Warn("chat round trip failed",
			zap.String("id", pending.target),
			zap.Bool("transport", errors.Is(err, api.ErrTransport)),
			zap.Error(err),
		)
		text = FallbackReply
		result.Stage = StageFailed
		result.Err = err
	}
	msg := conversation.Message{Text: text, Sender: conversation.SenderBot, Timestamp: p.now().UTC()}
	result.Reply = msg

	conv, appendErr := p.state.Cache().Append(pending.target, msg)
	if appendErr != nil {
		p.logger.Debug("reply for conversation no longer cached", zap.String("id", pending.target))
	} else {
		p.save(ctx, conv)
	}
	p.transcript.AppendMessage(pending.target, msg)

	if err != nil {
		return result
	}
	if pending.local && appendErr == nil && p.recorder != nil {
		serverID := reply.ChatID
		if serverID == "" {
			serverID = pending.target
		}
		adopted, adoptErr := p.recorder.Adopt(ctx, pending.target, serverID)
		if adoptErr != nil {
			p.logger.Warn("adopt server id", zap.String("id", pending.target), zap.Error(adoptErr))
		} else {
			pending.target = adopted.ID
			result.ConversationID = adopted.ID
		}
	}
	p.refresher.Refresh(ctx)
	return result
}

// Send runs Begin and Complete back to back.
func (p *Pipeline) Send(ctx context.Context, text string) Result {
	return p.Complete(ctx, p.Begin(ctx, text))
}

func (p *Pipeline) dispatch(ctx context.Context, pending *Pending) (api.ChatReply, error) {
	defer p.indicator.HideTyping(pending.ConversationID)
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.awaitDraft(ctx, pending); err != nil {
		return api.ChatReply{}, fmt.Errorf("%w: %w", api.ErrTransport, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sender.SendMessage(callCtx, api.ChatRequest{
		Message: pending.Message.Text,
		UserID:  p.state.UserID(),
		ChatID:  pending.chatID,
	})
}

// awaitDraft blocks until the previous send on the same draft has finished,
// then points pending at the id that send left the conversation under.
func (p *Pipeline) awaitDraft(ctx context.Context, pending *Pending) error {
	if pending.after == nil {
		return nil
	}
	select {
	case <-pending.after.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	pending.target = pending.after.resolved
	if conv, ok := p.state.Cache().Get(pending.target); ok && !conv.Local {
		pending.local = false
		pending.chatID = conv.ID
	}
	return nil
}

// release hands the draft's current id to the next queued send. Released
// gates stay registered so a Begin racing the adoption still resolves
// through them.
func (p *Pipeline) release(pending Pending) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending.gate.resolved = pending.target
	close(pending.gate.done)
}

func (p *Pipeline) save(ctx context.Context, conv conversation.Conversation) {
	if p.recorder == nil || conv.ID == "" {
		return
	}
	if err := p.recorder.Save(ctx, conv); err != nil {
		p.logger.Warn("persist conversation", zap.String("id", conv.ID), zap.Error(err))
	}
}
