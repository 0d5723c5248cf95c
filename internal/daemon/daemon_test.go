package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/presence"
	"github.com/matheus3301/huddle/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// fakeAPI answers the REST endpoints the daemon calls at startup.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/chat/list/unread-count":
			_, _ = w.Write([]byte(`{"success":true,"data":{"totalUnreadMessages":3,"unreadChatsCount":1}}`))
		case strings.HasPrefix(r.URL.Path, "/chat/list"):
			_, _ = w.Write([]byte(`{"success":true,"data":{"chats":[
				{"_id":"c1","participant":{"_id":"p1","name":"Ana"},"unreadCount":3,
				 "lastMessage":{"content":"hi","createdAt":"2026-01-02T10:00:00Z"}}
			],"pagination":{"currentPage":1,"totalPages":1}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testHome points HUDDLE_HOME at a short temp dir and writes a config.
func testHome(t *testing.T, apiURL string) {
	t.Helper()
	// Use /tmp for short socket paths (104-char Unix socket limit on macOS).
	dir, err := os.MkdirTemp("/tmp", "huddle-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
	t.Setenv(config.TokenEnv, "")

	cfg := &config.Config{
		DefaultProfile: "test",
		Profiles: map[string]config.Profile{
			"test": {
				APIURL: apiURL,
				// Nothing listens here; the manager keeps retrying in the background.
				SocketURL: "ws://127.0.0.1:1/socket",
				UserID:    "me",
				Token:     "tok",
				LogLevel:  "error",
			},
		},
	}
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	srv := fakeAPI(t)
	testHome(t, srv.URL)

	app := fxtest.New(t, Module(Params{ProfileName: "test"}), fx.NopLogger)
	app.RequireStart()
	defer app.RequireStop()

	socketPath := profile.SocketPath("test")
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !c.Healthy(ctx) {
		t.Fatal("daemon not healthy")
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Profile != "test" || st.UserID != "me" {
		t.Errorf("status = %+v", st)
	}
	if st.InstanceID == "" {
		t.Error("instance id is empty")
	}
	// The journal holds two subscriptions from OnStart.
	if st.Events.Subscribers < 2 {
		t.Errorf("event subscribers = %d, want at least 2", st.Events.Subscribers)
	}
	if st.Cache == nil {
		t.Error("status carries no cache stats")
	}

	// The initial sync runs in the background.
	deadline := time.Now().Add(3 * time.Second)
	var convs int
	for time.Now().Before(deadline) {
		resp, err := c.Unread(ctx, false, "")
		if err == nil && resp.Totals.Messages == 3 {
			convs = resp.Totals.Chats
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if convs != 1 {
		t.Fatalf("unread chats = %d, want 1 after initial page", convs)
	}

	if err := c.Join(ctx, "c1", "p1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	sent, err := c.Send(ctx, "c1", "hello", "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	hist, err := c.History(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].LocalID != sent.LocalID || hist.Messages[0].State != delivery.Pending {
		t.Errorf("history = %+v", hist.Messages)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	srv := fakeAPI(t)
	testHome(t, srv.URL)

	first := fxtest.New(t, Module(Params{ProfileName: "test"}), fx.NopLogger)
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(Module(Params{ProfileName: "test", SocketPath: filepath.Join(profile.Dir("test"), "d2.sock")}), fx.NopLogger)
	if err := second.Err(); err == nil {
		t.Fatal("second daemon for the same profile should fail to build")
	}
}

func TestMissingTokenFails(t *testing.T) {
	testHome(t, "http://127.0.0.1:1")
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.Profiles["test"]
	p.Token = ""
	cfg.Profiles["test"] = p
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}

	app := fx.New(Module(Params{ProfileName: "test"}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("expected missing token to fail startup")
	}
}

type recordingUpdater struct {
	updates []conversation.LiveUpdate
}

func (r *recordingUpdater) ApplyLiveUpdate(u conversation.LiveUpdate) {
	r.updates = append(r.updates, u)
}

func TestDeliveryObserver(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()
	agg := &recordingUpdater{}
	observe := deliveryObserver(b, agg, "me")

	at := time.UnixMilli(1000)
	observe(delivery.Change{Kind: delivery.KindAppended, Message: delivery.Message{
		LocalID: "1-1", ConversationID: "c1", SenderID: "me", Content: "hi", CreatedAt: at,
	}, PeerID: "p1"})
	observe(delivery.Change{Kind: delivery.KindAppended, Message: delivery.Message{
		LocalID: "1-2", ConversationID: "c1", SenderID: "p1", Content: "yo", CreatedAt: at,
	}})
	observe(delivery.Change{Kind: delivery.KindConfirmed, Message: delivery.Message{
		LocalID: "1-1", ConversationID: "c1", SenderID: "me", State: delivery.Confirmed,
	}})

	var kinds []string
	for range 3 {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for bus event")
		}
	}
	want := []string{bus.MessageAppended, bus.MessageAppended, bus.MessageConfirmed}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
			break
		}
	}

	// Only own sends reach the list, and never as inbound.
	if len(agg.updates) != 1 {
		t.Fatalf("live updates = %d, want 1", len(agg.updates))
	}
	u := agg.updates[0]
	if u.ConversationID != "c1" || u.PeerID != "p1" || u.Preview != "hi" || u.Inbound {
		t.Errorf("update = %+v", u)
	}
}

func TestActivityObserver(t *testing.T) {
	agg := &recordingUpdater{}
	activityObserver(agg)(presence.Activity{PeerID: "p1", Message: "ping", At: time.UnixMilli(5)})
	if len(agg.updates) != 1 {
		t.Fatalf("live updates = %d, want 1", len(agg.updates))
	}
	u := agg.updates[0]
	if u.PeerID != "p1" || !u.Inbound || u.Preview != "ping" {
		t.Errorf("update = %+v", u)
	}
}

func TestPresenceAndConversationObservers(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	presenceObserver(b)(presence.Record{PeerID: "p1", IsOnline: true})
	conversationObserver(b)(conversation.Conversation{ID: "c1"})

	for _, want := range []string{bus.PresenceChanged, bus.ConversationUpdated} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("kind = %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for bus event")
		}
	}
}
