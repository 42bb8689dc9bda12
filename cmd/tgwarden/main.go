// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"tgwarden/internal/api/gemini"
	"tgwarden/internal/api/telegram"
	"tgwarden/internal/cli"
	"tgwarden/internal/logger"
	"tgwarden/internal/userstore"
	"tgwarden/internal/util/syncx"
	"tgwarden/internal/web"
)

func main() { cli.Main(new(engine)) }

const (
	logLineLimit   = 300
	pollRetryDelay = 3 * time.Second
)

type engine struct {
	init syncx.Lazy[error] // main initialization

	// initialized by doInit
	store     *userstore.Store
	tg        *telegram.Client
	geminic   *gemini.Client
	logStream logger.Streamer
	logf      logger.Logf
	mux       *http.ServeMux
	scrubber  *strings.Replacer
	me        telegram.User // obtained from Telegram Bot API

	// configuration, read-only after initialization
	addr        string
	adminID     int64
	debugToken  string
	geminiKey   string
	geminiModel string
	httpc       *http.Client
	stderr      io.Writer
	tgToken     string
	usersFile   string

	// broadcast session of the administrator, touched only by the poll
	// loop goroutine
	broadcast *broadcastSession

	// poller state, reported by the health check
	poller *syncx.Protected[*pollerState]

	// for tests
	noServerStart bool
	ready         func() // see web.ListenAndServeConfig.Ready
}

// broadcastSession means the next administrator message is a broadcast
// payload for the target group ("" selects all allowed users).
type broadcastSession struct {
	group string
}

type pollerState struct {
	lastSuccess time.Time
	lastErr     error
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	e.tgToken = cmp.Or(e.tgToken, env.Getenv("TG_TOKEN"))
	e.geminiKey = cmp.Or(e.geminiKey, env.Getenv("GEMINI_KEY"))
	e.geminiModel = cmp.Or(e.geminiModel, env.Getenv("GEMINI_MODEL"), "gemini-1.5-flash")
	e.adminID = cmp.Or(e.adminID, parseInt(env.Getenv("TG_ADMIN")))
	e.usersFile = cmp.Or(e.usersFile, env.Getenv("USERS_FILE"), "users.json")
	e.debugToken = cmp.Or(e.debugToken, env.Getenv("DEBUG_TOKEN"))
	e.addr = cmp.Or(e.addr, ":"+cmp.Or(env.Getenv("PORT"), "5000"))
	e.stderr = cmp.Or(e.stderr, env.Stderr)

	switch {
	case e.tgToken == "":
		return fmt.Errorf("%w: TG_TOKEN environment variable is not set", cli.ErrInvalidArgs)
	case e.geminiKey == "":
		return fmt.Errorf("%w: GEMINI_KEY environment variable is not set", cli.ErrInvalidArgs)
	case e.adminID == 0:
		return fmt.Errorf("%w: TG_ADMIN environment variable is not set", cli.ErrInvalidArgs)
	}

	// Initialize internal state.
	if err := e.init.Get(func() error {
		return e.doInit(ctx)
	}); err != nil {
		return err
	}

	// Used in tests.
	if e.noServerStart {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(ctx, &web.ListenAndServeConfig{
			Addr:  e.addr,
			Mux:   e.mux,
			Logf:  e.logf,
			Ready: e.ready,
		})
	}()

	e.logf("Bot is running and polling for messages.")
	return e.poll(ctx, errCh)
}

// poll is the main update loop. It long polls the Bot API and handles updates
// one at a time. A failed poll is logged and retried after a short delay, it
// never stops the loop.
func (e *engine) poll(ctx context.Context, errCh <-chan error) error {
	var offset int64
	for {
		select {
		case err := <-errCh:
			return err
		default:
		}

		updates, err := e.tg.GetUpdates(ctx, offset)
		if ctx.Err() != nil {
			// Shutting down; wait for the server to drain.
			return <-errCh
		}
		if err != nil {
			e.pollFailed(err)
			e.logf("main: getting updates: %v", err)
			if !sleep(ctx, pollRetryDelay) {
				return <-errCh
			}
			continue
		}
		e.pollSucceeded()

		for _, upd := range updates {
			offset = upd.ID + 1
			e.handleUpdate(ctx, upd)
		}
	}
}

func (e *engine) pollSucceeded() {
	e.poller.Access(func(p *pollerState) {
		p.lastSuccess = time.Now()
		p.lastErr = nil
	})
}

func (e *engine) pollFailed(err error) {
	e.poller.Access(func(p *pollerState) { p.lastErr = err })
}

func (e *engine) doInit(ctx context.Context) error {
	if e.httpc == nil {
		e.httpc = &http.Client{
			// The timeout must cover both the getUpdates long poll and
			// Gemini response times.
			Timeout: 60 * time.Second,
		}
	}
	if e.stderr == nil {
		e.stderr = os.Stderr
	}

	e.logStream = logger.NewStreamer(logLineLimit)
	e.logf = log.New(io.MultiWriter(e.stderr, &timestampWriter{e.logStream}), "", 0).Printf

	var scrubPairs []string
	for _, val := range []string{
		e.tgToken,
		e.geminiKey,
		e.debugToken,
	} {
		if val != "" {
			scrubPairs = append(scrubPairs, val, "[EXPUNGED]")
		}
	}
	if len(scrubPairs) > 0 {
		e.scrubber = strings.NewReplacer(scrubPairs...)
	}

	e.store = userstore.Open(e.usersFile, e.logf)
	e.poller = syncx.Protect(&pollerState{})

	e.tg = &telegram.Client{
		Token:      e.tgToken,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
		Logf:       e.logf,
	}
	e.geminic = &gemini.Client{
		APIKey:     e.geminiKey,
		Model:      e.geminiModel,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
	}

	// Fail fast on a bad token.
	me, err := e.tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("validating bot token: %w", err)
	}
	e.me = me
	e.logf("Authorized as @%s (ID %d).", me.Username, me.ID)

	e.initRoutes()

	return nil
}

func parseInt(s string) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// timestampWriter is an io.Writer that prefixes each line with the current date and time.
type timestampWriter struct {
	w io.Writer
}

func (tw *timestampWriter) Write(p []byte) (n int, err error) {
	lines := bytes.SplitAfter(p, []byte{'\n'})

	for _, line := range lines {
		if len(line) > 0 {
			timestamp := time.Now().Format(time.DateTime + "\t")
			_, err := tw.w.Write([]byte(timestamp))
			if err != nil {
				return n, err
			}
			nn, err := tw.w.Write(line)
			n += nn
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}
