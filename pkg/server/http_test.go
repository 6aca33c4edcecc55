package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"activations-controlplane/pkg/config"
)

func TestNewHttpServer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "9090"
	cfg.Server.ReadTimeout = 5 * time.Second

	srv, err := NewHttpServer(Params{Config: cfg, Engine: gin.New()})
	require.NoError(t, err)
	require.Equal(t, ":9090", srv.server.Addr)
	require.Equal(t, 5*time.Second, srv.server.ReadHeaderTimeout)
	require.Nil(t, srv.server.TLSConfig)
}

func TestNewHttpServerMissingCert(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.Addr = "9443"
	cfg.TLS.Enable = true
	cfg.TLS.CertPath = filepath.Join(dir, "tls.crt")
	cfg.TLS.KeyPath = filepath.Join(dir, "tls.key")

	_, err := NewHttpServer(Params{Config: cfg, Engine: gin.New()})
	require.Error(t, err)
}
