package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/eventbus"
	"healthtimer/internal/reminder"
	"healthtimer/internal/transport"
	logx "healthtimer/pkg/logx"
)

type fakeChannel struct {
	mu    sync.Mutex
	sent  []Message
	fails int // fail this many sends first
	ready bool
	got   chan Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{ready: true, got: make(chan Message, 16)}
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("temporary failure")
	}
	f.sent = append(f.sent, m)
	f.got <- m
	return nil
}

func (f *fakeChannel) Ready(context.Context) (bool, error) { return f.ready, nil }

func startService(t *testing.T, cfg Config, ch Channel) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, ch, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
	}
	return Message{}
}

var alert = reminder.Alert{ItemID: "eye", Name: "Eye Exercise", Instructions: "Look far away.", FireAt: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel()
	s, _ := startService(t, Config{Enabled: true, RatePerSec: 100}, fc)

	if err := s.Notify(context.Background(), FromAlert(alert)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	m := waitMessage(t, fc.got)
	if m.ItemID != "eye" || m.Title != "Time for: Eye Exercise" || m.Body != "Look far away." {
		t.Fatalf("delivered %+v", m)
	}
	deadline := time.Now().Add(time.Second)
	for len(s.History()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h := s.History(); len(h) != 1 || h[0].Channel != "fake" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel()
	fc.fails = 2
	s, _ := startService(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, fc)

	_ = s.Notify(context.Background(), FromAlert(alert))
	waitMessage(t, fc.got)
}

func TestNotifyGivesUpAndPublishesFailure(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel()
	fc.fails = 10
	s, bus := startService(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond}, fc)
	events, unsub := bus.Subscribe(8, EventFailed)
	defer unsub()

	_ = s.Notify(context.Background(), FromAlert(alert))
	select {
	case e := <-events:
		if ev, ok := e.Data.(Event); !ok || ev.ItemID != "eye" || ev.Error == "" {
			t.Fatalf("failure event = %+v", e.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no failure event")
	}
}

func TestNotifyDedup(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel()
	s, bus := startService(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, fc)
	deduped, unsub := bus.Subscribe(8, EventDeduped)
	defer unsub()

	m := FromAlert(alert)
	_ = s.Notify(context.Background(), m)
	_ = s.Notify(context.Background(), m)
	waitMessage(t, fc.got)
	select {
	case <-deduped:
	case <-time.After(time.Second):
		t.Fatal("duplicate was not suppressed")
	}

	// test sends always go out
	it := catalog.Item{ID: "eye", Name: "Eye Exercise"}
	if err := s.SendTest(context.Background(), it); err != nil {
		t.Fatalf("SendTest: %v", err)
	}
	if got := waitMessage(t, fc.got); !got.Test {
		t.Fatalf("test message = %+v", got)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, newFakeChannel(), logx.Nop(), nil)
	if err := s.Notify(context.Background(), FromAlert(alert)); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify disabled = %v", err)
	}
	if ok, err := s.Authorize(context.Background()); ok || !errors.Is(err, ErrDisabled) {
		t.Fatalf("Authorize disabled = %v, %v", ok, err)
	}

	s = New(Config{Enabled: true}, newFakeChannel(), logx.Nop(), nil)
	if err := s.Notify(context.Background(), FromAlert(alert)); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	ch := &blockingChannel{release: block}
	s, _ := startService(t, Config{Enabled: true, Workers: 1, QueueSize: 1, RatePerSec: 100}, ch)
	defer close(block)

	var full bool
	for i := 0; i < 5; i++ {
		m := FromAlert(alert)
		m.At = m.At.Add(time.Duration(i) * time.Minute)
		if err := s.Notify(context.Background(), m); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("queue never reported full")
	}
}

type blockingChannel struct{ release chan struct{} }

func (b *blockingChannel) Name() string { return "block" }
func (b *blockingChannel) Send(ctx context.Context, _ Message) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}
func (b *blockingChannel) Ready(context.Context) (bool, error) { return true, nil }

func TestAuthorize(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel()
	s := New(Config{Enabled: true}, fc, logx.Nop(), nil)
	if ok, err := s.Authorize(context.Background()); !ok || err != nil {
		t.Fatalf("Authorize = %v, %v", ok, err)
	}
	fc.ready = false
	if ok, _ := s.Authorize(context.Background()); ok {
		t.Fatal("Authorize true for unready channel")
	}
	s.SetChannel(nil)
	if _, err := s.Authorize(context.Background()); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("Authorize without channel = %v", err)
	}
}

type fakeSender struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.to, f.text, f.opt = to, text, opt
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}
func (f *fakeSender) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (f *fakeSender) AnswerCallback(context.Context, string, string) error { return nil }

func TestTelegramChannel(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	ch := &Telegram{Sender: fs, Target: transport.ChatTarget{ChatID: 42, ThreadID: 7}}

	m := FromAlert(alert)
	m.Snooze = true
	if err := ch.Send(context.Background(), m); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fs.to.ChatID != 42 || fs.to.ThreadID != 7 {
		t.Fatalf("target = %+v", fs.to)
	}
	if !strings.HasPrefix(fs.text, "Time for: Eye Exercise (snoozed)") || !strings.Contains(fs.text, "Look far away.") {
		t.Fatalf("text = %q", fs.text)
	}
	kb := fs.opt.Keyboard
	if len(kb) != 1 || len(kb[0]) != 2 || kb[0][0].Data != "ack:eye:1" || kb[0][1].Data != "snooze:eye" {
		t.Fatalf("keyboard = %+v", kb)
	}
	if ok, _ := (&Telegram{Sender: fs}).Ready(context.Background()); ok {
		t.Fatal("channel without chat reported ready")
	}
}

func TestPushoverChannel(t *testing.T) {
	t.Parallel()
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		if r.PostForm.Get("token") == "bad" {
			_, _ = w.Write([]byte(`{"status":0,"errors":["application token is invalid"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":1,"request":"abc"}`))
	}))
	defer srv.Close()

	p := &Pushover{AppToken: "tok", UserKey: "usr", Endpoint: srv.URL, Client: srv.Client()}
	if err := p.Send(context.Background(), FromAlert(alert)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if form["title"] != "Time for: Eye Exercise" || form["message"] != "Look far away." || form["user"] != "usr" {
		t.Fatalf("form = %v", form)
	}

	p.AppToken = "bad"
	if err := p.Send(context.Background(), FromAlert(alert)); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("Send with bad token = %v", err)
	}

	if ok, _ := (&Pushover{}).Ready(context.Background()); ok {
		t.Fatal("unconfigured pushover reported ready")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter band", d)
	}
}

func TestFormatTextTest(t *testing.T) {
	t.Parallel()
	m := TestMessage(catalog.Item{ID: "x", Name: "Stretch", Instructions: "Reach up."}, time.Now())
	if got := FormatText(m); got != "🧪 Time for: Stretch\n\nReach up." {
		t.Fatalf("FormatText = %q", got)
	}
}
