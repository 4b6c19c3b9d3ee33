// Package bot maps chat updates onto reminder operations.
//
// Only owner user ids may drive the bot. Commands and callbacks are routed
// through a small middleware chain (panic recovery, timeout, request log)
// and executed on a bounded worker pool so a slow store never stalls
// update intake.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/reminder"
	"healthtimer/internal/state"
	"healthtimer/internal/transport"
	logx "healthtimer/pkg/logx"
)

// Controller is the part of the reminder coordinator the bot drives.
type Controller interface {
	Catalog() *catalog.Catalog
	Status(ctx context.Context, now time.Time) (reminder.Status, bool, error)
	Items(ctx context.Context, now time.Time) ([]reminder.ItemView, error)
	Paused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context, now time.Time) (state.Armed, bool, error)
	Snooze(ctx context.Context, itemID string, now time.Time) (state.Armed, bool, error)
	Acknowledge(ctx context.Context, itemID string, isSnooze bool, now time.Time) (state.Armed, bool, error)
	CurrentItem(ctx context.Context) (catalog.Item, error)
	UpdateInterval(ctx context.Context, itemID string, minutes int, now time.Time) error
	UpdateEnabled(ctx context.Context, itemID string, enabled bool, now time.Time) error
}

// Tester sends an immediate test reminder.
type Tester interface {
	SendTest(ctx context.Context, it catalog.Item) error
}

// Request is one routed update.
type Request struct {
	Kind   transport.UpdateKind
	Chat   transport.ChatTarget
	FromID int64

	Command string
	Args    []string

	// callback only
	CallbackID string
	MessageRef transport.MessageRef
	Payload    string
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Command is one slash command.
type Command struct {
	Name        string
	Usage       string
	Description string
	Handle      HandlerFunc
}

// Options configures a Router.
type Options struct {
	Sender     transport.Sender
	Controller Controller
	Tester     Tester
	Log        logx.Logger
	Owners     []int64
	Timeout    time.Duration // per request; default 15s
	Workers    int           // default 2
	Now        func() time.Time
}

type Router struct {
	send   transport.Sender
	ctl    Controller
	tester Tester
	log    logx.Logger
	now    func() time.Time

	timeout time.Duration
	workers int

	mu     sync.RWMutex
	owners []int64

	cmds  map[string]Command
	order []string
}

func New(opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	r := &Router{
		send:    opt.Sender,
		ctl:     opt.Controller,
		tester:  opt.Tester,
		log:     opt.Log.With(logx.String("comp", "bot")),
		now:     opt.Now,
		timeout: opt.Timeout,
		workers: opt.Workers,
		owners:  slices.Clone(opt.Owners),
		cmds:    map[string]Command{},
	}
	for _, c := range r.commands() {
		r.cmds[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r
}

// SetOwners replaces the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != 0 && slices.Contains(r.owners, id)
}

// MenuCommands lists the commands for the platform menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, transport.BotCommand{Command: name, Description: r.cmds[name].Description})
	}
	return out
}

// Run dispatches updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	jobs := make(chan transport.Update, 64)
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go func() {
			defer wg.Done()
			for up := range jobs {
				r.Handle(ctx, up)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
		r.log.Info("bot dispatcher stopped")
	}()
	r.log.Info("bot dispatcher started", logx.Int("workers", r.workers))

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	req, h := r.route(up)
	if req == nil || h == nil {
		return
	}
	mw := []Middleware{r.recoverMW(), r.logMW(), r.timeoutMW()}
	if err := Chain(h, mw...)(ctx, req); err != nil {
		r.replyError(ctx, req, err)
	}
}

func (r *Router) route(up transport.Update) (*Request, HandlerFunc) {
	switch up.Kind {
	case transport.UpdateMessage:
		m := up.Message
		if m == nil {
			return nil, nil
		}
		name, args, ok := parseCommand(m.Text)
		if !ok {
			return nil, nil
		}
		req := &Request{
			Kind:    up.Kind,
			Chat:    transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
			FromID:  m.FromID,
			Command: name,
			Args:    args,
		}
		if !r.isOwner(m.FromID) {
			r.log.Debug("ignoring non-owner command", logx.Int64("from", m.FromID), logx.String("cmd", name))
			return nil, nil
		}
		cmd, ok := r.cmds[name]
		if !ok {
			return req, r.unknown
		}
		return req, cmd.Handle
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil
		}
		req := &Request{
			Kind:       up.Kind,
			Chat:       transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
			FromID:     cb.FromID,
			CallbackID: cb.ID,
			MessageRef: transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID},
			Payload:    cb.Data,
		}
		if !r.isOwner(cb.FromID) {
			return req, func(ctx context.Context, req *Request) error {
				return r.send.AnswerCallback(ctx, req.CallbackID, "Not allowed")
			}
		}
		req.Command, req.Args = parseCallback(cb.Data)
		return req, r.callback
	}
	return nil, nil
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// parseCallback splits "ack:eye:1" into ("ack", [eye 1]).
func parseCallback(data string) (string, []string) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	return parts[0], parts[1:]
}

func (r *Router) recoverMW() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if v := recover(); v != nil {
					r.log.Error("panic in bot handler", logx.Any("panic", v), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", v)
				}
			}()
			return next(ctx, req)
		}
	}
}

func (r *Router) timeoutMW() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func (r *Router) logMW() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			ctx = reminder.WithActor(ctx, reminder.Actor{Source: "telegram", ID: req.FromID})
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("kind", string(req.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				r.log.Warn("request failed", append(fields, logx.Err(err))...)
			} else {
				r.log.Info("request ok", fields...)
			}
			return err
		}
	}
}

// userError is shown to the user verbatim.
type userError struct{ msg string }

func (e userError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return userError{msg: fmt.Sprintf(format, args...)} }

func (r *Router) replyError(ctx context.Context, req *Request, err error) {
	text := "⚠️ Something went wrong, check the logs."
	var ue userError
	switch {
	case errors.As(err, &ue):
		text = "⚠️ " + ue.msg
	case errors.Is(err, state.ErrUnknownItem):
		text = "⚠️ Unknown item. Try /items."
	case errors.Is(err, state.ErrInvalidInterval):
		text = "⚠️ Interval must be a positive number of minutes."
	}
	if req.Kind == transport.UpdateCallback {
		_ = r.send.AnswerCallback(ctx, req.CallbackID, strings.TrimPrefix(text, "⚠️ "))
		return
	}
	_ = r.reply(ctx, req, text)
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.send.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) unknown(ctx context.Context, req *Request) error {
	return r.reply(ctx, req, "Unknown command /"+req.Command+". Try /help.")
}
