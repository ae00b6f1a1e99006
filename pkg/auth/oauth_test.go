package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const secretsJSON = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"s3cr3t",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["%s"]}}`

func writeSecrets(t *testing.T, dir, redirect string) {
	t.Helper()
	body := []byte(fmt.Sprintf(secretsJSON, redirect))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ClientSecretsFile), body, 0600))
}

func TestConfigRedirectNormalization(t *testing.T) {
	tests := []struct {
		redirect string
		want     string
	}{
		{"http://localhost", "http://localhost:6789"},
		{"http://127.0.0.1:8080/cb", "http://127.0.0.1:6789/cb"},
		{"urn:ietf:wg:oauth:2.0:oob", "http://localhost:6789/oauth2callback"},
		{"https://example.com/cb", "https://example.com/cb"},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeSecrets(t, dir, tt.redirect)

		cfg, err := New(dir, zap.NewNop()).Config(CalendarScopes)
		require.NoError(t, err, tt.redirect)
		assert.Equal(t, tt.want, cfg.RedirectURL, tt.redirect)
		assert.Equal(t, CalendarScopes, cfg.Scopes)
	}
}

func TestConfigMissingSecrets(t *testing.T) {
	_, err := New(t.TempDir(), nil).Config(CalendarScopes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ClientSecretsFile)
}

func TestTokenFileRoundTripAndReset(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, zap.NewNop())
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour).Round(time.Second)}

	assert.False(t, a.HasToken())
	require.NoError(t, saveToken(a.TokenPath(), tok))
	assert.True(t, a.HasToken())
	got, err := tokenFromFile(a.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
	assert.True(t, tok.Expiry.Equal(got.Expiry))

	require.NoError(t, a.Reset())
	_, err = os.Stat(a.TokenPath())
	assert.True(t, os.IsNotExist(err))
	assert.False(t, a.HasToken())
	assert.NoError(t, a.Reset(), "resetting twice is fine")
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingSourceSavesRefreshedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenFile)
	old := &oauth2.Token{AccessToken: "old", RefreshToken: "r"}
	fresh := &oauth2.Token{AccessToken: "new", RefreshToken: "r"}

	src := &persistingSource{inner: staticSource{fresh}, last: old, path: path, log: zap.NewNop()}
	got, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)

	saved, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)
}
