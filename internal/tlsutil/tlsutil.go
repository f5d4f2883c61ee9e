// Package tlsutil builds the mTLS configurations the bridge server and
// orchestrator use for their single WebSocket transport: a server side that
// requires and verifies a client certificate against a configured CA, and a
// client side that presents its own certificate and verifies the server.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig builds a tls.Config for the bridge's listener: it presents
// certPath/keyPath and requires every client to present a certificate
// verifiable against caPath. tls.LoadX509KeyPair accepts PKCS#1, PKCS#8, and
// EC private keys directly, covering the same fallback the original
// implementation performs by hand.
func ServerConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: load server keypair: %w", err)
	}

	pool, err := loadCAPool(caPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig builds a tls.Config for the orchestrator's outbound dial: it
// presents certPath/keyPath as its client certificate and verifies the
// bridge's server certificate against caPath.
func ClientConfig(certPath, keyPath, caPath, serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: load client keypair: %w", err)
	}

	pool, err := loadCAPool(caPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadCAPool(caPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlsutil: no certificates found in %s", caPath)
	}
	return pool, nil
}
