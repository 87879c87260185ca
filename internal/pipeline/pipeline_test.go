package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/chatup/internal/api"
	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/session"
)

// recorder captures every observable side effect in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) AppendMessage(_ string, msg conversation.Message) {
	r.add("append %s: %s", msg.Sender, msg.Text)
}

func (r *recorder) ShowTyping(string) { r.add("typing on") }
func (r *recorder) HideTyping(string) { r.add("typing off") }

type fakeSender struct {
	log   *recorder
	reply api.ChatReply
	err   error
	block bool
	reqs  []api.ChatRequest
}

func (f *fakeSender) SendMessage(ctx context.Context, req api.ChatRequest) (api.ChatReply, error) {
	f.log.add("send %s", req.Message)
	f.reqs = append(f.reqs, req)
	if f.block {
		<-ctx.Done()
		return api.ChatReply{}, fmt.Errorf("%w: %w", api.ErrTransport, ctx.Err())
	}
	return f.reply, f.err
}

type fakeRecorder struct {
	saved   []string
	adopted [][2]string
	state   *session.State
}

func (f *fakeRecorder) Save(_ context.Context, conv conversation.Conversation) error {
	f.saved = append(f.saved, conv.ID)
	return nil
}

func (f *fakeRecorder) Adopt(ctx context.Context, localID, serverID string) (conversation.Conversation, error) {
	f.adopted = append(f.adopted, [2]string{localID, serverID})
	conv, err := f.state.Cache().Rekey(localID, serverID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if active, _ := f.state.Active(); active == localID {
		_ = f.state.SetActive(ctx, conv.ID)
	}
	return conv, nil
}

func fixedClock() func() time.Time {
	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	return func() time.Time { return now }
}

func TestSendWithoutActiveConversationCreatesOne(t *testing.T) {
	log := &recorder{}
	sender := &fakeSender{log: log, reply: api.ChatReply{Response: "I'm well!"}}
	state := session.New(nil, nil, "ada@example.com")
	var refreshes int
	p := New(sender, state,
		WithTranscript(log),
		WithIndicator(log),
		WithClock(fixedClock()),
		WithRefresher(RefresherFunc(func(context.Context) { refreshes++ })),
	)

	result := p.Send(context.Background(), "Hello there, how are you?")
	if result.Err != nil || result.Stage != StageResolved {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Created {
		t.Fatalf("expected a new conversation")
	}
	convs := state.Cache().List()
	if len(convs) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(convs))
	}
	conv := convs[0]
	if conv.ID != "chat_1700000000000" {
		t.Fatalf("id = %q", conv.ID)
	}
	if conv.Title != "Hello there, how are you?" {
		t.Fatalf("title = %q", conv.Title)
	}
	if active, _ := state.Active(); active != conv.ID {
		t.Fatalf("new conversation must be active, got %q", active)
	}
	want := []conversation.Message{
		{Text: "Hello there, how are you?", Sender: conversation.SenderUser, Timestamp: fixedClock()()},
		{Text: "I'm well!", Sender: conversation.SenderBot, Timestamp: fixedClock()()},
	}
	if diff := cmp.Diff(want, conv.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes)
	}
	if sender.reqs[0].UserID != "ada@example.com" || sender.reqs[0].ChatID != "" {
		t.Fatalf("draft must not forward a chat id: %+v", sender.reqs[0])
	}
}

func TestSideEffectsAreOrdered(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reply api.ChatReply
		err   error
		last  string
	}{
		{name: "success", reply: api.ChatReply{Response: "hi!"}, last: "append bot: hi!"},
		{name: "failure", err: &api.RemoteError{Status: 500}, last: "append bot: " + FallbackReply},
	} {
		t.Run(tc.name, func(t *testing.T) {
			log := &recorder{}
			p := New(&fakeSender{log: log, reply: tc.reply, err: tc.err}, session.New(nil, nil, "ada"),
				WithTranscript(log), WithIndicator(log))
			p.Send(context.Background(), "hello")
			want := []string{"append user: hello", "typing on", "send hello", "typing off", tc.last}
			if diff := cmp.Diff(want, log.list()); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailureAppendsFallbackWithoutRollback(t *testing.T) {
	log := &recorder{}
	state := session.New(nil, nil, "ada")
	existing := conversation.New("c1", time.Now())
	state.Cache().Upsert(existing)
	if err := state.SetActive(context.Background(), "c1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	var refreshes int
	p := New(&fakeSender{log: log, err: fmt.Errorf("%w: dial tcp: connection refused", api.ErrTransport)}, state,
		WithRefresher(RefresherFunc(func(context.Context) { refreshes++ })))

	result := p.Send(context.Background(), "are you there?")
	if result.Stage != StageFailed || !errors.Is(result.Err, api.ErrTransport) {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Reply.Text != FallbackReply {
		t.Fatalf("reply = %q", result.Reply.Text)
	}
	conv, _ := state.Cache().Get("c1")
	if len(conv.Messages) != 2 || conv.Messages[0].Text != "are you there?" || conv.Messages[1].Sender != conversation.SenderBot {
		t.Fatalf("unexpected messages %+v", conv.Messages)
	}
	if refreshes != 0 {
		t.Fatalf("failed round trip must not refresh")
	}
}

func TestExistingConversationForwardsChatID(t *testing.T) {
	log := &recorder{}
	sender := &fakeSender{log: log, reply: api.ChatReply{Response: "ok", ChatID: "65a1"}}
	state := session.New(nil, nil, "ada")
	state.Cache().Upsert(conversation.New("65a1", time.Now()))
	_ = state.SetActive(context.Background(), "65a1")
	rec := &fakeRecorder{state: state}

	result := New(sender, state, WithRecorder(rec)).Send(context.Background(), "again")
	if result.Created {
		t.Fatalf("must reuse the active conversation")
	}
	if sender.reqs[0].ChatID != "65a1" {
		t.Fatalf("chat id not forwarded: %+v", sender.reqs[0])
	}
	if len(rec.adopted) != 0 {
		t.Fatalf("server conversations are never adopted: %v", rec.adopted)
	}
	if len(rec.saved) != 2 {
		t.Fatalf("expected saves after each append, got %v", rec.saved)
	}
}

func TestDraftAdoptsServerID(t *testing.T) {
	log := &recorder{}
	state := session.New(nil, nil, "ada")
	rec := &fakeRecorder{state: state}
	p := New(&fakeSender{log: log, reply: api.ChatReply{Response: "ok", ChatID: "65a1"}}, state,
		WithRecorder(rec), WithClock(fixedClock()))

	result := p.Send(context.Background(), "first message")
	if result.ConversationID != "65a1" {
		t.Fatalf("result id = %q", result.ConversationID)
	}
	if active, _ := state.Active(); active != "65a1" {
		t.Fatalf("active = %q", active)
	}
	conv, ok := state.Cache().Get("65a1")
	if !ok || conv.Local || len(conv.Messages) != 2 {
		t.Fatalf("unexpected adopted conversation %+v", conv)
	}
}

func TestBlankInputIsIgnored(t *testing.T) {
	log := &recorder{}
	state := session.New(nil, nil, "ada")
	sender := &fakeSender{log: log}
	p := New(sender, state, WithTranscript(log), WithIndicator(log))

	for _, input := range []string{"", "   ", "\n\t"} {
		result := p.Send(context.Background(), input)
		if !result.Skipped || result.Stage != StageIdle {
			t.Fatalf("input %q: unexpected result %+v", input, result)
		}
	}
	if state.Cache().Len() != 0 {
		t.Fatalf("blank input must not create conversations")
	}
	if _, ok := state.Active(); ok {
		t.Fatalf("blank input must not set a pointer")
	}
	if len(log.list()) != 0 {
		t.Fatalf("blank input must not produce events: %v", log.list())
	}
}

func TestLongFirstMessageTitleIsTruncated(t *testing.T) {
	log := &recorder{}
	state := session.New(nil, nil, "ada")
	p := New(&fakeSender{log: log, reply: api.ChatReply{Response: "Cold."}}, state)
	p.Send(context.Background(), "What is the weather like on Mars today?")
	convs := state.Cache().List()
	if len(convs) != 1 || convs[0].Title != "What is the weather like on Ma..." {
		t.Fatalf("unexpected conversations %+v", convs)
	}
}

func TestTimeoutFollowsFailurePath(t *testing.T) {
	log := &recorder{}
	p := New(&fakeSender{log: log, block: true}, session.New(nil, nil, "ada"),
		WithIndicator(log), WithTimeout(20*time.Millisecond))
	result := p.Send(context.Background(), "slow")
	if result.Stage != StageFailed || !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Fatalf("unexpected result %+v", result)
	}
	if events := log.list(); events[len(events)-1] != "typing off" {
		t.Fatalf("indicator must be hidden, events %v", events)
	}
}

func TestBeginShowsEchoBeforeComplete(t *testing.T) {
	log := &recorder{}
	state := session.New(nil, nil, "ada")
	p := New(&fakeSender{log: log, reply: api.ChatReply{Response: "pong"}}, state,
		WithTranscript(log), WithIndicator(log))

	pending := p.Begin(context.Background(), "ping")
	if pending.Stage != StageAwaitingReply {
		t.Fatalf("stage = %s", pending.Stage)
	}
	if diff := cmp.Diff([]string{"append user: ping", "typing on"}, log.list()); diff != "" {
		t.Fatalf("events before completion mismatch:\n%s", diff)
	}
	result := p.Complete(context.Background(), pending)
	if result.Reply.Text != "pong" {
		t.Fatalf("reply = %q", result.Reply.Text)
	}
}

// scriptedSender answers each request with the next scripted reply.
type scriptedSender struct {
	mu      sync.Mutex
	replies []api.ChatReply
	chatIDs []string
}

func (s *scriptedSender) SendMessage(_ context.Context, req api.ChatRequest) (api.ChatReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatIDs = append(s.chatIDs, req.ChatID)
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func TestQueuedSendsOnDraftShareOneServerConversation(t *testing.T) {
	state := session.New(nil, nil, "ada@example.com")
	sender := &scriptedSender{replies: []api.ChatReply{
		{Response: "reply to first", ChatID: "srv1"},
		{Response: "reply to second", ChatID: "srv2"},
	}}
	p := New(sender, state, WithRecorder(&fakeRecorder{state: state}), WithClock(fixedClock()))
	ctx := context.Background()

	first := p.Begin(ctx, "first")
	second := p.Begin(ctx, "second")
	if first.ConversationID != second.ConversationID {
		t.Fatalf("both sends belong to the draft, got %s and %s", first.ConversationID, second.ConversationID)
	}

	done := make(chan Result, 1)
	go func() { done <- p.Complete(ctx, second) }()
	select {
	case <-done:
		t.Fatalf("second send completed before the first")
	case <-time.After(20 * time.Millisecond):
	}
	r1 := p.Complete(ctx, first)
	r2 := <-done

	if r1.ConversationID != "srv1" || r2.ConversationID != "srv1" {
		t.Fatalf("results = %q, %q; want srv1 for both", r1.ConversationID, r2.ConversationID)
	}
	if diff := cmp.Diff([]string{"", "srv1"}, sender.chatIDs); diff != "" {
		t.Fatalf("chat ids sent (-want +got):\n%s", diff)
	}
	convs := state.Cache().List()
	if len(convs) != 1 || convs[0].ID != "srv1" {
		t.Fatalf("expected only srv1 in cache, got %+v", convs)
	}
	var got []string
	for _, msg := range convs[0].Messages {
		got = append(got, string(msg.Sender)+": "+msg.Text)
	}
	want := []string{"user: first", "user: second", "bot: reply to first", "bot: reply to second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
}

func TestFailedFirstSendLeavesNextSendToAdopt(t *testing.T) {
	state := session.New(nil, nil, "ada@example.com")
	log := &recorder{}
	sender := &fakeSender{log: log, err: errors.New("boom")}
	rec := &fakeRecorder{state: state}
	p := New(sender, state, WithRecorder(rec), WithClock(fixedClock()))
	ctx := context.Background()

	first := p.Begin(ctx, "first")
	second := p.Begin(ctx, "second")
	if r := p.Complete(ctx, first); r.Stage != StageFailed {
		t.Fatalf("first send should fail, got %s", r.Stage)
	}
	sender.err = nil
	sender.reply = api.ChatReply{Response: "ok", ChatID: "srv9"}
	r2 := p.Complete(ctx, second)
	if r2.Stage != StageResolved || r2.ConversationID != "srv9" {
		t.Fatalf("unexpected second result %+v", r2)
	}
	if len(sender.reqs) != 2 || sender.reqs[1].ChatID != "" {
		t.Fatalf("draft still unacknowledged, second send must not carry a chat id: %+v", sender.reqs)
	}
	if diff := cmp.Diff([][2]string{{first.ConversationID, "srv9"}}, rec.adopted); diff != "" {
		t.Fatalf("adoptions (-want +got):\n%s", diff)
	}
}
