package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/chatup/internal/conversation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendMessagePostsPayloadWithHeaders(t *testing.T) {
	payloads := make(chan ChatRequest, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("authorization = %q", auth)
		}
		if _, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err != nil {
			t.Errorf("request id not a uuid: %q", r.Header.Get(RequestIDHeader))
		}
		var got ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		payloads <- got
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"I'm well!","chatId":"65a1"}`))
	}, WithToken("tok-1"))

	reply, err := client.SendMessage(context.Background(), ChatRequest{Message: "Hello there, how are you?", UserID: "ada@example.com"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Response != "I'm well!" || reply.ChatID != "65a1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	got := <-payloads
	if got.Message != "Hello there, how are you?" || got.UserID != "ada@example.com" || got.ChatID != "" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestSendMessageNon2xxIsRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"response":"Sorry, I encountered an error processing your request."}`))
	})
	_, err := client.SendMessage(context.Background(), ChatRequest{Message: "hi", UserID: "ada"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", remote.Status)
	}
	if IsTransport(err) {
		t.Fatalf("remote rejection must not be a transport error")
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := client.SendMessage(context.Background(), ChatRequest{Message: "hi", UserID: "ada"})
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestListHistoryMapsWireShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-history" || r.URL.Query().Get("user_email") != "ada@example.com" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"success":true,"chats":[
			{"id":"c2","title":"Weather on Mars...","created_at":"Mon, 01 Jan 2024 12:00:00 GMT","updated_at":"Mon, 01 Jan 2024 12:05:00 GMT",
			 "messages":[{"sender":"user","text":"weather?","timestamp":"2024-01-01T12:04:00"},{"sender":"bot","text":"Cold.","timestamp":"2024-01-01T12:05:00.250000"}]},
			{"id":"c1","title":"","created_at":"2023-12-31T08:00:00Z","messages":[]}
		]}`))
	})

	convs, err := client.ListHistory(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(convs))
	}
	first := convs[0]
	if first.ID != "c2" || first.LastMessage != "Cold." || len(first.Messages) != 2 {
		t.Fatalf("unexpected first chat %+v", first)
	}
	if first.Messages[0].Sender != conversation.SenderUser || first.Messages[1].Sender != conversation.SenderBot {
		t.Fatalf("senders not mapped: %+v", first.Messages)
	}
	want := time.Date(2024, 1, 1, 12, 5, 0, 250000000, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", first.Timestamp, want)
	}
	if !convs[1].Timestamp.Equal(time.Date(2023, 12, 31, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected created_at fallback, got %s", convs[1].Timestamp)
	}
}

func TestDeleteHistoryNotFoundCarriesServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/chat-history/chat_123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"not found"}`))
	})
	err := client.DeleteHistory(context.Background(), "ada", "chat_123")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := Message(err, "Failed to delete chat"); got != "not found" {
		t.Fatalf("message = %q", got)
	}
}

func TestDeleteHistorySuccessFalseWith200(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	})
	err := client.DeleteHistory(context.Background(), "ada", "chat_1")
	if got := Message(err, "Failed to delete chat"); got != "Failed to delete chat" {
		t.Fatalf("expected fallback message, got %q (%v)", got, err)
	}
}

func TestLoginStoresToken(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/login":
			_, _ = w.Write([]byte(`{"token":"tok-9","name":"Ada","email":"ada@example.com"}`))
		case "/health":
			if r.Header.Get("Authorization") != "Bearer tok-9" {
				t.Errorf("token not reused: %q", r.Header.Get("Authorization"))
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})
	creds, err := client.Login(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if creds.Name != "Ada" || client.Token() != "tok-9" {
		t.Fatalf("unexpected credentials %+v token %q", creds, client.Token())
	}
	status, err := client.Health(context.Background())
	if err != nil || status != "ok" {
		t.Fatalf("health = %q, %v", status, err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestLoginFailureSurfacesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
	})
	_, err := client.Login(context.Background(), "ada@example.com", "wrong")
	if err == nil || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if client.Token() != "" {
		t.Fatalf("token must stay empty after failed login")
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("localhost:5000"); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-01-01T12:00:00Z",
		"2024-01-01T12:00:00",
		"2024-01-01T12:00:00.000000",
		"Mon, 01 Jan 2024 12:00:00 GMT",
	} {
		got, ok := ParseTimestamp(raw)
		if !ok || !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s,%v", raw, got, ok)
		}
	}
	if _, ok := ParseTimestamp("soon"); ok {
		t.Fatalf("expected failure for garbage")
	}
}

func TestLoginWithoutTokenUsesEmail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"Login successful","name":"Ada","email":"ada@example.com"}`))
	})
	creds, err := client.Login(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if creds.Token != "ada@example.com" || client.Token() != "ada@example.com" {
		t.Fatalf("unexpected token %q", creds.Token)
	}
}
