package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/errors"
)

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := WriteTestCert(t, dir, "localhost")

	t.Run("disabled returns nil", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{Enabled: false, CertFile: "missing"})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("certificate loaded", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
		require.NoError(t, err)
		require.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	})

	t.Run("missing key is fatal", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: filepath.Join(dir, "nope.pem")})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func TestLoadServerConfig_MTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := WriteTestCert(t, dir, "localhost")
	caFile, _ := WriteTestCert(t, dir, "client")

	tests := []struct {
		name     string
		require  bool
		wantAuth tls.ClientAuthType
	}{
		{name: "required", require: true, wantAuth: tls.RequireAndVerifyClientCert},
		{name: "optional", require: false, wantAuth: tls.VerifyClientCertIfGiven},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadServerConfig(ServerConfig{
				Enabled:           true,
				CertFile:          certFile,
				KeyFile:           keyFile,
				ClientCAFiles:     []string{caFile},
				RequireClientCert: tt.require,
			})
			require.NoError(t, err)
			assert.NotNil(t, cfg.ClientCAs)
			assert.Equal(t, tt.wantAuth, cfg.ClientAuth)
			assert.Nil(t, cfg.VerifyPeerCertificate)
		})
	}

	t.Run("CN allow list", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{
			Enabled:          true,
			CertFile:         certFile,
			KeyFile:          keyFile,
			ClientCAFiles:    []string{caFile},
			AllowedClientCNs: []string{"client"},
		})
		require.NoError(t, err)
		require.NotNil(t, cfg.VerifyPeerCertificate)
		assert.NoError(t, cfg.VerifyPeerCertificate(nil, nil), "no certificate given and none required")
	})

	t.Run("bad CA file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o644))
		_, err := LoadServerConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{bad},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidData)
	})
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := WriteTestCert(t, dir, "client")

	t.Run("disabled returns nil", func(t *testing.T) {
		cfg, err := LoadClientConfig(ClientConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("additional CA and client certificate", func(t *testing.T) {
		cfg, err := LoadClientConfig(ClientConfig{
			Enabled:  true,
			CAFiles:  []string{certFile},
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.False(t, cfg.InsecureSkipVerify)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(dir, "nope.pem")}})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, ServerConfig{}.Validate())
	assert.NoError(t, ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}.Validate())
	assert.Error(t, ServerConfig{Enabled: true, CertFile: "c"}.Validate())
	assert.Error(t, ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}.Validate())
	assert.Error(t, ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", RequireClientCert: true}.Validate())

	assert.NoError(t, ClientConfig{}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true, CAFiles: []string{"ca"}}.Validate())
	assert.Error(t, ClientConfig{Enabled: true, CertFile: "c"}.Validate())
	assert.Error(t, ClientConfig{Enabled: true, MinVersion: "2"}.Validate())
}

func TestVerifyAllowedClientCN(t *testing.T) {
	chain := func(cn string) [][]*x509.Certificate {
		return [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: cn}}}}
	}

	assert.NoError(t, verifyAllowedClientCN(chain("edge-1"), []string{"edge-0", "edge-1"}))
	assert.Error(t, verifyAllowedClientCN(chain("intruder"), []string{"edge-1"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"edge-1"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
}
