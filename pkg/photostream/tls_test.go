package photostream

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeServerCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestTrustSystem(t *testing.T) {
	for _, mode := range []TrustMode{"", TrustSystem} {
		cfg, err := TrustConfig{Mode: mode, ServerName: "photos.example.test"}.TLSConfig()
		require.NoError(t, err)
		assert.Nil(t, cfg.RootCAs)
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Equal(t, "photos.example.test", cfg.ServerName)
		assert.EqualValues(t, tls.VersionTLS12, cfg.MinVersion)
	}
}

func TestTrustCAVerifiesAgainstBundle(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg, err := TrustConfig{Mode: TrustCA, CAFile: writeServerCA(t, srv)}.TLSConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	system, err := TrustConfig{}.TLSConfig()
	require.NoError(t, err)
	_, err = (&http.Client{Transport: &http.Transport{TLSClientConfig: system}}).Get(srv.URL)
	assert.Error(t, err, "self-signed server is rejected by system roots")
}

func TestTrustCAErrors(t *testing.T) {
	_, err := TrustConfig{Mode: TrustCA, CAFile: filepath.Join(t.TempDir(), "missing.pem")}.TLSConfig()
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("no certs here"), 0o600))
	_, err = TrustConfig{Mode: TrustCA, CAFile: empty}.TLSConfig()
	assert.ErrorContains(t, err, "no certificates")
}

func TestTrustInsecure(t *testing.T) {
	tc := TrustConfig{Mode: TrustInsecure}
	assert.True(t, tc.Insecure())
	cfg, err := tc.TLSConfig()
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	assert.False(t, TrustConfig{}.Insecure())
}

func TestTrustUnknownMode(t *testing.T) {
	_, err := TrustConfig{Mode: "pinned"}.TLSConfig()
	assert.Error(t, err)
}
