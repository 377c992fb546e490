package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/idlink/pkg/client"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/sessionsync"
)

const defaultServer = "http://localhost:8080"

// session bundles what every command needs
type session struct {
	client *client.Client
	tokens sessionsync.TokenStore
	sync   *sessionsync.Synchronizer
	log    *logrus.Logger
}

func addCommonFlags(fs *flag.FlagSet) {
	server := os.Getenv("IDLINK_SERVER")
	if server == "" {
		server = defaultServer
	}
	fs.String("server", server, "idlink server URL")
	fs.String("token-file", "", "Session token file (default: user config dir)")
	fs.Bool("verbose", false, "Enable debug logging")
	fs.Duration("timeout", 30*time.Second, "Request timeout")
}

// openSession builds a client and synchronizer from parsed flags. A zero poll
// interval uses the synchronizer default.
func openSession(fs *flag.FlagSet, poll ...time.Duration) (*session, error) {
	log := newLogger(fs.Lookup("verbose").Value.String() == "true")

	timeout, err := time.ParseDuration(fs.Lookup("timeout").Value.String())
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}
	c, err := client.New(fs.Lookup("server").Value.String(), client.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	path := fs.Lookup("token-file").Value.String()
	if path == "" {
		if path, err = sessionsync.DefaultTokenPath(); err != nil {
			return nil, err
		}
	}
	log.WithField("token_file", path).Debug("Using session token file")
	tokens := sessionsync.NewFileTokenStore(path)
	opts := sessionsync.Options{Tokens: tokens, Logger: log}
	if len(poll) > 0 {
		opts.PollInterval = poll[0]
	}

	return &session{
		client: c,
		tokens: tokens,
		sync:   sessionsync.New(c, opts),
		log:    log,
	}, nil
}

func (s *session) Close() {
	s.sync.Close()
}

func (s *session) token() (string, error) {
	tok, err := s.tokens.Load()
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("not signed in: run `idlink anonymous` or `idlink signin` first")
	}
	return tok, nil
}

func printSnapshot(snap sessionsync.Snapshot) {
	if !snap.SignedIn() {
		fmt.Fprintf(stdout, "state:    %s\nsession:  none\n", snap.State)
		return
	}
	p := snap.Identity
	fmt.Fprintf(stdout, "state:    %s\n", snap.State)
	fmt.Fprintf(stdout, "identity: %s (%s)\n", p.ID, p.Kind)
	fmt.Fprintf(stdout, "name:     %s\n", p.DisplayName)
	if p.Email != "" {
		fmt.Fprintf(stdout, "email:    %s (verified: %t)\n", p.Email, p.EmailVerified)
	}
	if p.LinkedFrom != "" {
		fmt.Fprintf(stdout, "linked:   from %s\n", p.LinkedFrom)
	}
	fmt.Fprintf(stdout, "expires:  %s\n", snap.Session.ExpiresAt.Format(time.RFC3339))
}

// describeError adds the data-safety note every failed link must carry
func describeError(err error) error {
	if identity.DataIntact(err) {
		return fmt.Errorf("%w (your anonymous data is intact)", err)
	}
	return err
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}
