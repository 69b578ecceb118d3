package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTLSConfigDefaultsToPlaintext(t *testing.T) {
	cfg, err := resolveTLSConfig("", "", 0, "", "")
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestResolveTLSConfigSelfSigned(t *testing.T) {
	cfg, err := resolveTLSConfig("", "", 1, "", "")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.Certificates, 1)
}

func TestResolveTLSConfigSelfSignedPersistsFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := dir + "/cert.pem"
	keyPath := dir + "/key.pem"

	cfg, err := resolveTLSConfig("", "", 1, certPath, keyPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.FileExists(t, certPath)
	require.FileExists(t, keyPath)
}

func TestResolveTLSConfigRequiresCertAndKeyTogether(t *testing.T) {
	_, err := resolveTLSConfig("cert.pem", "", 0, "", "")
	require.Error(t, err)
}

func TestResolveTLSConfigLoadsProvidedPair(t *testing.T) {
	dir := t.TempDir()
	certPath := dir + "/cert.pem"
	keyPath := dir + "/key.pem"
	_, err := resolveTLSConfig("", "", 1, certPath, keyPath)
	require.NoError(t, err)

	cfg, err := resolveTLSConfig(certPath, keyPath, 0, "", "")
	require.NoError(t, err)
	require.NotNil(t, cfg)
}
