// Package node maintains the streaming connection to a Lavalink node and
// dispatches its payloads to players, observers and extensions.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/lavalink/socket"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/future"
	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("lavalink: link closed")
	ErrReadyTimeout   = errors.New("lavalink: timed out waiting for the voice client to become ready")
	ErrNotStarted     = errors.New("lavalink: link was never started, call Run first")
	ErrAlreadyStarted = errors.New("lavalink: link already started")
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultStartTimeout = 10 * time.Second
)

// Socket is one connection attempt. Receive returns a nil payload at end of stream.
type Socket interface {
	Run(ctx context.Context) error
	Receive(ctx context.Context) (protocol.Payload, error)
	Close() error
}

type Dialer func(opts socket.Options) Socket

// ReadyWaiter is the part of the voice client the link depends on.
type ReadyWaiter interface {
	WaitForReady(ctx context.Context) (voice.ClientInfo, error)
}

// SessionAPI configures resuming once a session is ready.
type SessionAPI interface {
	UpdateSession(ctx context.Context, sessionID string, update protocol.SessionUpdate) (*protocol.Session, error)
}

// SessionStore remembers the last session id per link label.
type SessionStore interface {
	LoadSession(label string) (string, bool)
	SaveSession(label, sessionID string) error
}

type Options struct {
	Label         string
	URL           string
	Passphrase    string
	ClientName    string
	ReadyTimeout  time.Duration // bound for the voice client readiness
	StartTimeout  time.Duration // bound for WaitReady callers before Run is called
	ResumeTimeout time.Duration // 0 disables resuming

	Voice   ReadyWaiter
	API     SessionAPI
	Dial    Dialer
	Players PlayerLookup
	Store   SessionStore
	Logger  zerolog.Logger
}

type Link struct {
	opts   Options
	label  string
	logger zerolog.Logger
	events Events

	started *future.Future[struct{}]
	ready   *future.Future[string]

	sessionID  atomic.Pointer[string]
	resumeFrom string
	stats      atomic.Pointer[protocol.Statistics]

	extMu      sync.RWMutex
	extensions []namedExtension

	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type namedExtension struct {
	id   int
	name string
	ext  Extension
}

func New(opts Options) (*Link, error) {
	if opts.Voice == nil {
		return nil, errors.New("lavalink: voice client is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("lavalink: invalid node url %q", opts.URL)
	}
	if opts.Label == "" {
		opts.Label = "lavalink-" + uuid.NewString()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.Dial == nil {
		factory := socket.NewFactory(opts.Logger)
		opts.Dial = func(o socket.Options) Socket { return factory.New(o) }
	}

	l := &Link{
		opts:    opts,
		label:   opts.Label,
		logger:  opts.Logger.With().Str("component", "link").Str("label", opts.Label).Logger(),
		started: future.New[struct{}](),
		ready:   future.New[string](),
		done:    make(chan struct{}),
	}
	if opts.Store != nil {
		if id, ok := opts.Store.LoadSession(opts.Label); ok {
			l.logger.Debug().Str("session_id", id).Msg("found previous session")
			l.resumeFrom = id
		}
	}
	return l, nil
}

func (l *Link) Label() string { return l.label }

func (l *Link) Events() *Events { return &l.events }

// SessionID returns the id of the last ready payload, or "" before the handshake.
func (l *Link) SessionID() string {
	if id := l.sessionID.Load(); id != nil {
		return *id
	}
	return ""
}

// IsReady reports whether the handshake has completed.
func (l *Link) IsReady() bool {
	_, err, ok := l.ready.Result()
	return ok && err == nil
}

// Statistics returns the last statistics published by the node.
func (l *Link) Statistics() (protocol.Statistics, bool) {
	if s := l.stats.Load(); s != nil {
		return *s, true
	}
	return protocol.Statistics{}, false
}

// RegisterExtension adds ext to the end of the extension list.
func (l *Link) RegisterExtension(name string, ext Extension) (remove func()) {
	l.extMu.Lock()
	defer l.extMu.Unlock()

	id := len(l.extensions)
	if n := len(l.extensions); n > 0 {
		id = l.extensions[n-1].id + 1
	}
	l.extensions = append(l.extensions, namedExtension{id: id, name: name, ext: ext})

	return func() {
		l.extMu.Lock()
		defer l.extMu.Unlock()
		for i, e := range l.extensions {
			if e.id == id {
				l.extensions = append(l.extensions[:i:i], l.extensions[i+1:]...)
				return
			}
		}
	}
}

// WaitReady blocks until the node has assigned a session id. Callers that
// arrive before Run get StartTimeout to see the link started.
func (l *Link) WaitReady(ctx context.Context) (string, error) {
	if l.closed.Load() {
		return "", ErrClosed
	}
	if _, err, ok := l.ready.Result(); ok {
		if err != nil {
			return "", err
		}
		return l.SessionID(), nil
	}

	if !l.started.Completed() {
		startCtx, cancel := context.WithTimeout(ctx, l.opts.StartTimeout)
		_, err := l.started.Wait(startCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrNotStarted
			}
			return "", err
		}
	}

	if _, err := l.ready.Wait(ctx); err != nil {
		return "", err
	}
	return l.SessionID(), nil
}

// Run connects to the node and dispatches payloads until ctx is done or the
// link is closed. It fails with ErrReadyTimeout if the voice client does not
// become ready in time.
func (l *Link) Run(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(l.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}

	l.logger.Info().Msg("starting")
	l.started.Resolve(struct{}{})

	err := l.run(ctx)
	if err != nil && ctx.Err() == nil {
		l.ready.Fail(err)
		l.logger.Info().Err(err).Msg("stopped")
		return err
	}

	l.ready.Fail(ErrClosed)
	l.logger.Info().Msg("stopped")
	return nil
}

func (l *Link) run(ctx context.Context) error {
	begin := time.Now()
	l.logger.Debug().Msg("waiting for voice client")

	readyCtx, cancel := context.WithTimeout(ctx, l.opts.ReadyTimeout)
	info, err := l.opts.Voice.WaitForReady(readyCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			l.logger.Error().Dur("timeout", l.opts.ReadyTimeout).Msg("timed out waiting for voice client")
			return ErrReadyTimeout
		}
		return fmt.Errorf("wait for voice client: %w", err)
	}

	l.logger.Info().
		Str("client", info.Label).
		Str("user_id", info.UserID.String()).
		Int64("elapsed_ms", time.Since(begin).Milliseconds()).
		Msg("voice client ready")

	for ctx.Err() == nil {
		conn := l.opts.Dial(socket.Options{
			URL:        l.opts.URL,
			Passphrase: l.opts.Passphrase,
			UserID:     info.UserID,
			ShardCount: info.ShardCount,
			ClientName: l.opts.ClientName,
			SessionID:  l.resumeSessionID(),
		})
		l.serve(ctx, conn)
	}
	return ctx.Err()
}

// serve runs one connection until its stream ends.
func (l *Link) serve(ctx context.Context, conn Socket) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go func() {
		if err := conn.Run(connCtx); err != nil && connCtx.Err() == nil {
			l.logger.Warn().Err(err).Msg("connection ended")
		}
	}()

	state := &connection{}
	for {
		payload, err := conn.Receive(connCtx)
		if err != nil {
			l.logger.Debug().Err(err).Msg("receive failed, ending connection")
			return
		}
		if payload == nil {
			l.logger.Debug().Msg("stream ended, reconnecting")
			return
		}
		l.dispatch(connCtx, state, payload)
	}
}

// resumeSessionID is the session the next connection asks to resume.
func (l *Link) resumeSessionID() string {
	if l.opts.ResumeTimeout <= 0 {
		return ""
	}
	if id := l.SessionID(); id != "" {
		return id
	}
	return l.resumeFrom
}

// Close stops the link, fails pending ready waiters and waits for Run to return.
func (l *Link) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.started.Fail(ErrClosed)
	l.ready.Fail(ErrClosed)

	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if !l.running.Load() {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
