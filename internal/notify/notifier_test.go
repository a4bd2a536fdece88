package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventPositionClosed}, discardLogger())

	if err := n.Notify(context.Background(), EventPositionOpened, "opened", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 0 {
		t.Fatalf("filtered event reached sender: %v", s.titles)
	}

	if err := n.Notify(context.Background(), EventPositionClosed, "closed", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "closed" {
		t.Fatalf("expected single delivery of %q, got %v", "closed", s.titles)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	for _, ev := range []string{EventPositionOpened, EventPositionClosed, EventPositionStuck, EventConnectorClosed} {
		if err := n.Notify(context.Background(), ev, ev, "x"); err != nil {
			t.Fatalf("Notify(%s): %v", ev, err)
		}
	}
	if len(s.titles) != 4 {
		t.Fatalf("expected 4 deliveries, got %d", len(s.titles))
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("error missing failed sender detail: %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("healthy sender skipped after failure: %v", good.titles)
	}
}

func TestTelegramSendPayload(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok123", "chat42")
	s.baseURL = srv.URL

	if err := s.Send(context.Background(), "Position opened", "details"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottok123/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "chat42" {
		t.Fatalf("unexpected chat_id %q", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "*Position opened*\ndetails" {
		t.Fatalf("unexpected text %q", gotPayload["text"])
	}
}

func TestTelegramSendRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
