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

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"proccom/internal/config"
)

// writeSelfSigned writes a localhost certificate and key into dir.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey failed: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestValidateTLSFilesNotFound(t *testing.T) {
	err := ValidateTLSFiles("/nonexistent/cert.pem", "/nonexistent/key.pem")
	if !errors.Is(err, ErrCertNotFound) {
		t.Errorf("Expected ErrCertNotFound, got %v", err)
	}
}

func TestValidateTLSFiles(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())
	if err := ValidateTLSFiles(certFile, keyFile); err != nil {
		t.Errorf("ValidateTLSFiles failed: %v", err)
	}
}

func TestNewServerTLSConfigCertNotFound(t *testing.T) {
	_, err := NewServerTLSConfig(TLSConfig{
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	if !errors.Is(err, ErrCertNotFound) {
		t.Errorf("Expected ErrCertNotFound, got %v", err)
	}
}

func TestNewServerTLSConfigWithCA(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())

	cfg, err := NewServerTLSConfig(FromSecurity(config.SecurityConfig{
		TLSEnabled:  true,
		TLSCertFile: certFile,
		TLSKeyFile:  keyFile,
		TLSCAFile:   certFile,
	}))
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("Expected RequireAndVerifyClientCert, got %v", cfg.ClientAuth)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("Expected TLS 1.2 minimum, got %x", cfg.MinVersion)
	}
}

func TestNewClientTLSConfigBasic(t *testing.T) {
	tlsConfig, err := NewClientTLSConfig(TLSConfig{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if !tlsConfig.InsecureSkipVerify {
		t.Error("Expected InsecureSkipVerify to be true")
	}
}

func TestNewClientTLSConfigCANotFound(t *testing.T) {
	_, err := NewClientTLSConfig(TLSConfig{CAFile: "/nonexistent/ca.pem"})
	if !errors.Is(err, ErrCANotFound) {
		t.Errorf("Expected ErrCANotFound, got %v", err)
	}
}

func TestNewClientTLSConfigInvalidCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewClientTLSConfig(TLSConfig{CAFile: path})
	if !errors.Is(err, ErrInvalidCertificate) {
		t.Errorf("Expected ErrInvalidCertificate, got %v", err)
	}
}

func TestTLSRoundTrip(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())

	serverCfg, err := NewServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	clientCfg, err := NewClientTLSConfig(TLSConfig{CAFile: certFile, ServerName: "localhost"})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("Expected ping, got %q", buf)
	}
}
