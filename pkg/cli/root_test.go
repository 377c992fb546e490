package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/api"
	"github.com/platinummonkey/idlink/pkg/authflow"
	"github.com/platinummonkey/idlink/pkg/credential"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/sessionsync"
	"github.com/platinummonkey/idlink/pkg/storage/sqlstore"
)

type mailbox struct {
	mu   sync.Mutex
	last string
}

func (m *mailbox) SendMagicLink(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = link
	return nil
}

func (m *mailbox) token(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := url.Parse(m.last)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type env struct {
	url       string
	tokenFile string
	mail      *mailbox
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.NewInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	coord, err := linking.New(store, linking.Options{Tokens: tokens})
	require.NoError(t, err)

	mail := &mailbox{}
	orch, err := authflow.New(store, coord, authflow.Options{
		Hasher: credential.NewBcryptHasher(4),
		Tokens: tokens,
		Sender: mail,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(orch, api.Config{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	}))
	t.Cleanup(srv.Close)

	return &env{url: srv.URL, tokenFile: filepath.Join(t.TempDir(), "token"), mail: mail}
}

// run executes one subcommand against the test server and returns its stdout
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &buf, io.Discard
	defer func() { stdout, stderr = oldOut, oldErr }()

	root := NewRootCommand()
	cmd, ok := root.Subcommands[args[0]]
	require.True(t, ok, "unknown command %s", args[0])
	full := append([]string{"--server", e.url, "--token-file", e.tokenFile}, args[1:]...)
	err := cmd.Run(full)
	return buf.String(), err
}

func (e *env) storedToken(t *testing.T) string {
	t.Helper()
	tok, err := sessionsync.NewFileTokenStore(e.tokenFile).Load()
	require.NoError(t, err)
	return tok
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "idlink", root.Name)
	assert.NotNil(t, root.Flags)

	expected := []string{
		"anonymous",
		"signup",
		"signin",
		"signout",
		"whoami",
		"link",
		"resources",
		"magic-link",
		"watch",
	}
	for _, name := range expected {
		assert.Contains(t, root.Subcommands, name, "Expected subcommand %s to be registered", name)
	}
	assert.Equal(t, len(expected), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	require.NoError(t, NewRootCommand().usage())

	output := buf.String()
	assert.Contains(t, output, "Usage: idlink <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "magic-link")
	assert.Contains(t, output, "whoami")
}

func TestCommandExecute(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	old := stdout
	stdout = io.Discard
	defer func() { stdout = old }()

	root := NewRootCommand()

	os.Args = []string{"idlink"}
	assert.NoError(t, root.Execute())

	os.Args = []string{"idlink", "--HELP"}
	assert.NoError(t, root.Execute())

	os.Args = []string{"idlink", "frobnicate"}
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: frobnicate")
}

func TestAnonymousThenLink(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "anonymous")
	require.NoError(t, err)
	assert.Contains(t, out, "(anonymous)")
	anonToken := e.storedToken(t)
	require.NotEmpty(t, anonToken)

	// Running it again keeps the same session
	_, err = e.run(t, "anonymous")
	require.NoError(t, err)
	assert.Equal(t, anonToken, e.storedToken(t))

	out, err = e.run(t, "resources", "--add", "first draft")
	require.NoError(t, err)
	assert.Contains(t, out, "Created note")

	out, err = e.run(t, "link", "--email", "ada@example.com", "--password", "correct horse battery")
	require.NoError(t, err)
	assert.Contains(t, out, "Linked")
	assert.Contains(t, out, "(permanent)")
	assert.NotEqual(t, anonToken, e.storedToken(t))

	out, err = e.run(t, "resources")
	require.NoError(t, err)
	assert.Contains(t, out, "first draft")

	out, err = e.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.Contains(t, out, "linked:   from")
}

func TestLinkRequiresAnonymousSession(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "link", "--email", "ada@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email and --password are required")

	_, err = e.run(t, "signup", "--email", "ada@example.com", "--password", "correct horse battery")
	require.NoError(t, err)

	_, err = e.run(t, "link", "--email", "bob@example.com", "--password", "correct horse battery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an anonymous session")
}

func TestSignInSignOut(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "signup", "--email", "ada@example.com", "--password", "correct horse battery")
	require.NoError(t, err)

	out, err := e.run(t, "signout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")
	assert.Empty(t, e.storedToken(t))

	out, err = e.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "session:  none")

	_, err = e.run(t, "signin", "--email", "ada@example.com", "--password", "wrong password here")
	require.Error(t, err)

	out, err = e.run(t, "signin", "--email", "ada@example.com", "--password", "correct horse battery")
	require.NoError(t, err)
	assert.Contains(t, out, "(permanent)")

	_, err = e.run(t, "resources")
	require.NoError(t, err)
}

func TestResourcesRequireSession(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "resources")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

func TestMagicLink(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "magic-link")
	require.Error(t, err)

	_, err = e.run(t, "anonymous")
	require.NoError(t, err)

	out, err := e.run(t, "magic-link", "--email", "grace@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "grace@example.com")

	out, err = e.run(t, "magic-link", "--verify", e.mail.token(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Linked")
	assert.Contains(t, out, "verified: true")
}

func TestWatchPrintsChanges(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "anonymous")
	require.NoError(t, err)

	c, err := openTestSession(e)
	require.NoError(t, err)
	defer c.Close()

	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, watch(ctx, c.sync))

	assert.Contains(t, buf.String(), "(anonymous)")
}

func openTestSession(e *env) (*session, error) {
	root := NewRootCommand()
	fs := root.Subcommands["watch"].Flags
	if err := fs.Parse([]string{"--server", e.url, "--token-file", e.tokenFile}); err != nil {
		return nil, err
	}
	return openSession(fs, 50*time.Millisecond)
}
