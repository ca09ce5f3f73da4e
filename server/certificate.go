/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// loadTLSConfig loads the certificate and key at the configured paths.
// Missing or unreadable material is an error, servers never start without
// their configured TLS files.
func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
	}, nil
}

// GenerateSelfSignedCertificate creates an ed25519 self-signed certificate
// valid for the given hosts and writes certificate plus private key in PEM
// format to pemFile. The file is written via a temporary name and renamed
// into place.
func GenerateSelfSignedCertificate(hosts []string, pemFile string) error {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}

	// Create a random 64 bit number
	max := new(big.Int)
	max.Exp(big.NewInt(2), big.NewInt(64), nil).Sub(max, big.NewInt(1))
	sn, err := rand.Int(rand.Reader, max)
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: sn,

		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),

		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pubKey, privKey)
	if err != nil {
		return err
	}
	privKeyDER, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
	privKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privKeyDER,
	})

	tmpFn := pemFile + ".tmp"
	f, err := os.OpenFile(tmpFn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if _, err = f.Write(certPEM); err != nil {
		f.Close()
		os.Remove(tmpFn)
		return err
	}
	if _, err = f.Write(privKeyPEM); err != nil {
		f.Close()
		os.Remove(tmpFn)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmpFn)
		return err
	}

	if err = os.Rename(tmpFn, pemFile); err != nil {
		os.Remove(tmpFn)
		return err
	}

	return nil
}
