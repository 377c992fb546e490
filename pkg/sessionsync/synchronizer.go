package sessionsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/idlink/pkg/client"
	"github.com/platinummonkey/idlink/pkg/identity"
)

// DefaultPollInterval is how often a started Synchronizer reconciles
const DefaultPollInterval = 5 * time.Minute

// ErrClosed is returned by operations on a closed Synchronizer
var ErrClosed = errors.New("session synchronizer is closed")

// Fetcher is the server surface the Synchronizer needs. *client.Client
// implements it.
type Fetcher interface {
	Session(ctx context.Context, token string) (*client.Session, error)
	CreateAnonymous(ctx context.Context, token string) (*identity.AuthResult, error)
	SignUp(ctx context.Context, req identity.SignUpRequest) (*identity.AuthResult, error)
	SignIn(ctx context.Context, req identity.SignInRequest) (*identity.AuthResult, error)
	SignOut(ctx context.Context, token string) error
	Link(ctx context.Context, token string, req identity.BeginLinkRequest) (*identity.LinkOutcome, error)
}

var _ Fetcher = (*client.Client)(nil)

// Options configures a Synchronizer
type Options struct {
	Tokens       TokenStore
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// Synchronizer holds one client's session and keeps it in step with the server
type Synchronizer struct {
	fetcher Fetcher
	tokens  TokenStore
	poll    time.Duration
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once

	flight  singleflight.Group
	nextObs atomic.Uint64

	mu      sync.Mutex
	current Snapshot
	retired map[string]struct{}
	lastErr error
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

// New creates a Synchronizer. Nothing is fetched until Start or Refresh.
func New(fetcher Fetcher, opts Options) *Synchronizer {
	if opts.Tokens == nil {
		opts.Tokens = NewMemoryTokenStore()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		fetcher: fetcher,
		tokens:  opts.Tokens,
		poll:    opts.PollInterval,
		log:     opts.Logger.WithField("component", "sessionsync"),
		ctx:     ctx,
		cancel:  cancel,
		retired: make(map[string]struct{}),
		subs:    make(map[int]chan Snapshot),
	}
}

// Start reconciles once and then on every poll interval until ctx is done or
// the Synchronizer is closed. Calling Start again is a no-op.
func (s *Synchronizer) Start(ctx context.Context) {
	s.start.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Synchronizer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			s.log.WithError(err).Debug("Session poll failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close stops polling and aborts in-flight work. No state is applied after
// Close returns, and every subscriber channel is closed.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Current returns the latest applied snapshot
func (s *Synchronizer) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// LastError returns the most recent reconciliation or action failure, or nil
// once a later result was applied
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe returns a channel that receives every published snapshot,
// starting with the current one, and a function that unsubscribes
func (s *Synchronizer) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.current.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

// Refresh reconciles with the server. Concurrent calls share one request.
// The returned error is also retained in LastError.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}

	ch := s.flight.DoChan("refresh", func() (interface{}, error) {
		return nil, s.reconcile(s.ctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Synchronizer) reconcile(ctx context.Context) error {
	obs := s.nextObs.Add(1)
	s.markSyncing()

	token, err := s.tokens.Load()
	if err != nil {
		s.fail(obs, err)
		return err
	}
	if token == "" {
		s.apply(obs, update{signedOut: true})
		return nil
	}

	sess, err := s.fetcher.Session(ctx, token)
	switch {
	case err == nil:
		s.apply(obs, update{result: &sess.AuthResult, redirected: sess.Redirected})
		return nil
	case identity.KindOf(err) == identity.KindSessionExpired:
		s.apply(obs, update{signedOut: true})
		return nil
	case ctx.Err() != nil:
		return ErrClosed
	default:
		s.fail(obs, err)
		return err
	}
}

// SignInAnonymously creates an anonymous identity, or keeps the current
// session when it is still valid
func (s *Synchronizer) SignInAnonymously(ctx context.Context) (Snapshot, error) {
	return s.act(ctx, "sign_in_anonymously", func(ctx context.Context, token string) (update, error) {
		res, err := s.fetcher.CreateAnonymous(ctx, token)
		if err != nil {
			return update{}, err
		}
		return update{result: res}, nil
	})
}

// SignUp registers a permanent identity. An anonymous session held by this
// client is linked into it.
func (s *Synchronizer) SignUp(ctx context.Context, req identity.SignUpRequest) (Snapshot, error) {
	return s.act(ctx, "sign_up", func(ctx context.Context, token string) (update, error) {
		if req.CurrentSessionToken == "" {
			req.CurrentSessionToken = token
		}
		held := s.Current()
		res, err := s.fetcher.SignUp(ctx, req)
		if err != nil {
			return update{}, err
		}
		return update{result: res, retire: linkedAway(held, res)}, nil
	})
}

// SignIn authenticates a permanent identity. An anonymous session held by
// this client is merged into it.
func (s *Synchronizer) SignIn(ctx context.Context, req identity.SignInRequest) (Snapshot, error) {
	return s.act(ctx, "sign_in", func(ctx context.Context, token string) (update, error) {
		if req.CurrentSessionToken == "" {
			req.CurrentSessionToken = token
		}
		held := s.Current()
		res, err := s.fetcher.SignIn(ctx, req)
		if err != nil {
			return update{}, err
		}
		return update{result: res, retire: linkedAway(held, res)}, nil
	})
}

// SignOut ends the session. An already expired session counts as success.
func (s *Synchronizer) SignOut(ctx context.Context) (Snapshot, error) {
	return s.act(ctx, "sign_out", func(ctx context.Context, token string) (update, error) {
		if token != "" {
			if err := s.fetcher.SignOut(ctx, token); err != nil && identity.KindOf(err) != identity.KindSessionExpired {
				return update{}, err
			}
		}
		return update{signedOut: true}, nil
	})
}

// Link graduates the anonymous identity held by this client. Source and
// idempotency key default to the current identity and a fresh key.
func (s *Synchronizer) Link(ctx context.Context, req identity.BeginLinkRequest) (Snapshot, error) {
	return s.act(ctx, "link", func(ctx context.Context, token string) (update, error) {
		if req.SourceIdentityID == "" {
			cur := s.Current()
			if !cur.Anonymous() {
				return update{}, identity.NewError(identity.KindValidation, "sessionsync.Link", "no anonymous session to link")
			}
			req.SourceIdentityID = cur.Identity.ID
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = newIdempotencyKey()
		}
		out, err := s.fetcher.Link(ctx, token, req)
		if err != nil {
			return update{}, err
		}
		return update{result: &out.AuthResult, retire: []string{req.SourceIdentityID}}, nil
	})
}

// act runs a local mutating action and applies its result immediately
func (s *Synchronizer) act(ctx context.Context, name string, fn func(context.Context, string) (update, error)) (Snapshot, error) {
	if s.isClosed() {
		return Snapshot{}, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	token, err := s.tokens.Load()
	if err != nil {
		s.recordErr(err)
		return s.Current(), err
	}

	u, err := fn(ctx, token)
	if err != nil {
		if s.isClosed() {
			return Snapshot{}, ErrClosed
		}
		s.log.WithError(err).WithField("action", name).Warn("Session action failed")
		s.recordErr(err)
		return s.Current(), err
	}

	// Numbered on completion so any poll issued before it is older
	s.apply(s.nextObs.Add(1), u)
	if s.isClosed() {
		return Snapshot{}, ErrClosed
	}
	return s.Current(), nil
}

// linkedAway lists the identities res retires when it reports a link: the
// anonymous identity this client held before the call, and the source the
// result records. They differ when a sign-in merged into an identity that
// was itself linked from another anonymous identity earlier.
func linkedAway(held Snapshot, res *identity.AuthResult) []string {
	if !res.Linked {
		return nil
	}
	var ids []string
	if held.Anonymous() {
		ids = append(ids, held.Identity.ID)
	}
	if from := res.Identity.LinkedFrom; from != "" && (len(ids) == 0 || ids[0] != from) {
		ids = append(ids, from)
	}
	return ids
}

type update struct {
	result     *identity.AuthResult
	signedOut  bool
	redirected bool
	retire     []string
}

func (s *Synchronizer) apply(obs uint64, u update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	for _, id := range u.retire {
		s.retired[id] = struct{}{}
	}
	if obs <= s.current.Observation {
		s.log.WithFields(logrus.Fields{
			"observation": obs,
			"applied":     s.current.Observation,
		}).Debug("Discarding stale session observation")
		return false
	}
	if u.result != nil {
		if _, gone := s.retired[u.result.Identity.ID]; gone {
			s.log.WithField("identity_id", u.result.Identity.ID).Debug("Discarding observation of a linked identity")
			if s.current.State == StateSyncing {
				s.current.State = StateReady
				s.publishLocked()
			}
			return false
		}
	}

	prev := s.current
	if u.result != nil && u.result.Identity.LinkedFrom != "" {
		s.retired[u.result.Identity.LinkedFrom] = struct{}{}
	}
	if u.redirected && prev.Anonymous() && u.result != nil && prev.Identity.ID != u.result.Identity.ID {
		s.retired[prev.Identity.ID] = struct{}{}
	}

	next := Snapshot{State: StateReady, Observation: obs}
	if u.result != nil && !u.signedOut {
		p := u.result.Identity
		t := u.result.Session
		next.Identity = &p
		next.Session = &t
		if err := s.tokens.Save(t.Token); err != nil {
			s.log.WithError(err).Warn("Failed to persist session token")
		}
	} else if err := s.tokens.Clear(); err != nil {
		s.log.WithError(err).Warn("Failed to clear session token")
	}

	if prev.Identity != nil && next.Identity != nil && prev.Identity.ID != next.Identity.ID {
		s.log.WithFields(logrus.Fields{
			"from": prev.Identity.ID,
			"to":   next.Identity.ID,
		}).Info("Session identity changed")
	}

	s.current = next
	s.lastErr = nil
	s.publishLocked()
	return true
}

func (s *Synchronizer) markSyncing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current.State == StateSyncing {
		return
	}
	s.current.State = StateSyncing
	s.publishLocked()
}

// fail records a reconciliation failure. The identity is kept and the state
// becomes Stale unless a newer result was applied meanwhile.
func (s *Synchronizer) fail(obs uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastErr = err
	if obs <= s.current.Observation {
		return
	}
	s.current.State = StateStale
	s.publishLocked()
}

func (s *Synchronizer) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.lastErr = err
	}
}

func (s *Synchronizer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publishLocked sends the current snapshot to every subscriber, replacing
// any snapshot still buffered
func (s *Synchronizer) publishLocked() {
	snap := s.current
	for _, ch := range s.subs {
		select {
		case ch <- snap.clone():
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap.clone():
		default:
		}
	}
}
