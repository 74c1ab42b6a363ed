/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package crypto builds TLS configurations for the broker listener and for
clients dialing it.

When security.tls_enabled is set the broker wraps its TCP listener with
tls.NewListener; the framing protocol runs unchanged inside the TLS stream.
Setting security.tls_ca_file additionally requires clients to present a
certificate signed by that CA (mutual TLS).

SECURITY DEFAULTS:
==================
- Minimum TLS version: 1.2
- ECDHE key exchange with AES-GCM or ChaCha20 only

CERTIFICATE SETUP:
==================
Generate a self-signed pair for local testing:

	openssl req -x509 -newkey ec -pkeyopt ec_paramgen_curve:P-256 \
	    -nodes -days 365 -subj /CN=localhost \
	    -keyout broker.key -out broker.crt
*/
package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"proccom/internal/config"
)

var (
	// ErrCertNotFound is returned when the certificate file cannot be read.
	ErrCertNotFound = errors.New("tls: certificate file not found")

	// ErrKeyNotFound is returned when the key file cannot be read.
	ErrKeyNotFound = errors.New("tls: key file not found")

	// ErrInvalidCertificate is returned when a PEM bundle holds no usable certificate.
	ErrInvalidCertificate = errors.New("tls: invalid certificate")

	// ErrCANotFound is returned when the CA certificate file cannot be read.
	ErrCANotFound = errors.New("tls: CA certificate file not found")
)

var strongCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// TLSConfig holds TLS configuration options.
type TLSConfig struct {
	CertFile string // PEM certificate
	KeyFile  string // PEM private key
	CAFile   string // PEM CA bundle; verifies peers when set

	// ClientAuth is the server's client certificate policy when CAFile is set.
	// Zero means tls.RequireAndVerifyClientCert.
	ClientAuth tls.ClientAuthType

	MinVersion uint16 // default TLS 1.2

	// ServerName overrides the name clients verify the broker certificate against.
	ServerName string

	// InsecureSkipVerify disables certificate verification (for testing only).
	InsecureSkipVerify bool
}

// FromSecurity converts the broker's security section.
func FromSecurity(sec config.SecurityConfig) TLSConfig {
	return TLSConfig{
		CertFile: sec.TLSCertFile,
		KeyFile:  sec.TLSKeyFile,
		CAFile:   sec.TLSCAFile,
	}
}

// NewServerTLSConfig creates a TLS configuration for the broker listener.
func NewServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCertNotFound, cfg.CertFile)
		}
		return nil, fmt.Errorf("tls: failed to load certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: strongCipherSuites,
	}
	if cfg.MinVersion != 0 {
		tlsConfig.MinVersion = cfg.MinVersion
	}

	if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = cfg.ClientAuth
		if tlsConfig.ClientAuth == tls.NoClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	return tlsConfig, nil
}

// NewClientTLSConfig creates a TLS configuration for publishers and subscribers.
func NewClientTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.MinVersion != 0 {
		tlsConfig.MinVersion = cfg.MinVersion
	}

	// Client certificate for mutual TLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCANotFound, path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCertificate, path)
	}
	return pool, nil
}

// ValidateTLSFiles checks that the certificate and key exist and form a valid pair.
func ValidateTLSFiles(certFile, keyFile string) error {
	if _, err := os.Stat(certFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrCertNotFound, certFile)
	}
	if _, err := os.Stat(keyFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyFile)
	}
	if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
		return fmt.Errorf("tls: invalid certificate or key: %w", err)
	}
	return nil
}
