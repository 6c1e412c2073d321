// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// Package sigcert manages the Ed25519 signing certificates behind the
// public-key sign mechanism. A certificate is a pair of TOML files: a
// public part (world-readable, "<path>.pub") and a secret part
// ("<path>", mode 0600) whose key material is held in protected memory
// while loaded.
package sigcert

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/zeebo/blake3"

	"github.com/flux-framework/flux-imp/lib/secret"
)

// Errors returned by certificate operations.
var (
	ErrNoSecretKey      = errors.New("sigcert: certificate has no secret key")
	ErrInvalidSignature = errors.New("sigcert: invalid signature")
)

// Cert is a signing certificate: always a public key, optionally the
// matching secret key.
type Cert struct {
	public ed25519.PublicKey
	secret *secret.Buffer
}

// certFile is the on-disk TOML shape shared by the public and secret
// parts.
type certFile struct {
	Curve struct {
		PublicKey string `toml:"public-key"`
		SecretKey string `toml:"secret-key,omitempty"`
	} `toml:"curve"`
}

// Generate creates a fresh certificate with both halves. The caller
// must Close it when done.
func Generate() (*Cert, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigcert: generating keypair: %w", err)
	}
	buffer, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, fmt.Errorf("sigcert: protecting secret key: %w", err)
	}
	return &Cert{public: public, secret: buffer}, nil
}

// FromPublicKey wraps a bare Ed25519 public key (as carried in an
// envelope header) in a verification-only certificate.
func FromPublicKey(public ed25519.PublicKey) (*Cert, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sigcert: public key has wrong length: got %d, want %d",
			len(public), ed25519.PublicKeySize)
	}
	return &Cert{public: public}, nil
}

// Load reads the certificate rooted at path: the public part from
// "<path>.pub", and when wantSecret is set, the secret part from
// "<path>" itself.
func Load(path string, wantSecret bool) (*Cert, error) {
	public, err := loadPublic(path + ".pub")
	if err != nil {
		return nil, err
	}
	cert := &Cert{public: public}

	if !wantSecret {
		return cert, nil
	}

	private, err := loadSecret(path)
	if err != nil {
		return nil, err
	}
	if !public.Equal(private.Public().(ed25519.PublicKey)) {
		zero(private)
		return nil, fmt.Errorf("sigcert: %s: secret key does not match public part", path)
	}
	cert.secret, err = secret.NewFromBytes(private)
	if err != nil {
		return nil, fmt.Errorf("sigcert: protecting secret key: %w", err)
	}
	return cert, nil
}

func loadPublic(path string) (ed25519.PublicKey, error) {
	var file certFile
	if err := readCertFile(path, &file); err != nil {
		return nil, err
	}
	if file.Curve.PublicKey == "" {
		return nil, fmt.Errorf("sigcert: %s: public-key field missing", path)
	}
	key, err := base64.StdEncoding.DecodeString(file.Curve.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("sigcert: %s: decoding public-key: %w", path, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sigcert: %s: public key has wrong length: got %d, want %d",
			path, len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}

func loadSecret(path string) (ed25519.PrivateKey, error) {
	var file certFile
	if err := readCertFile(path, &file); err != nil {
		return nil, err
	}
	if file.Curve.SecretKey == "" {
		return nil, fmt.Errorf("sigcert: %s: secret-key field missing", path)
	}
	key, err := base64.StdEncoding.DecodeString(file.Curve.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("sigcert: %s: decoding secret-key: %w", path, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		zero(key)
		return nil, fmt.Errorf("sigcert: %s: secret key has wrong length: got %d, want %d",
			path, len(key), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

func readCertFile(path string, file *certFile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sigcert: %w", err)
	}
	if err := toml.Unmarshal(data, file); err != nil {
		return fmt.Errorf("sigcert: %s: %w", path, err)
	}
	return nil
}

// Store writes the certificate rooted at path: "<path>.pub" (0644)
// always, and "<path>" (0600) when the secret half is present. The
// parent directory is created as needed.
func (c *Cert) Store(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("sigcert: %w", err)
	}

	var public certFile
	public.Curve.PublicKey = base64.StdEncoding.EncodeToString(c.public)
	if err := writeCertFile(path+".pub", &public, 0o644); err != nil {
		return err
	}

	if c.secret == nil {
		return nil
	}
	var private certFile
	private.Curve.PublicKey = public.Curve.PublicKey
	private.Curve.SecretKey = base64.StdEncoding.EncodeToString(c.secret.Bytes())
	return writeCertFile(path, &private, 0o600)
}

func writeCertFile(path string, file *certFile, mode os.FileMode) error {
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("sigcert: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("sigcert: %w", err)
	}
	return nil
}

// Public returns the certificate's public key.
func (c *Cert) Public() ed25519.PublicKey {
	return c.public
}

// HasSecret reports whether the secret half is loaded.
func (c *Cert) HasSecret() bool {
	return c.secret != nil
}

// Close releases the protected secret key memory, if any. Idempotent.
func (c *Cert) Close() error {
	if c.secret == nil {
		return nil
	}
	return c.secret.Close()
}

// SignDetached signs data with the certificate's secret key and
// returns the signature in base64 (no '.' or whitespace, safe to embed
// in an envelope).
func (c *Cert) SignDetached(data []byte) (string, error) {
	if c.secret == nil {
		return "", ErrNoSecretKey
	}
	signature := ed25519.Sign(ed25519.PrivateKey(c.secret.Bytes()), data)
	return base64.StdEncoding.EncodeToString(signature), nil
}

// VerifyDetached checks a base64 detached signature over data against
// the certificate's public key.
func (c *Cert) VerifyDetached(signature string, data []byte) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("sigcert: decoding signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("sigcert: signature has wrong length: got %d, want %d",
			len(raw), ed25519.SignatureSize)
	}
	if !ed25519.Verify(c.public, data, raw) {
		return ErrInvalidSignature
	}
	return nil
}

// Equal reports whether two certificates carry the same public key.
// Secret halves are not compared.
func (c *Cert) Equal(other *Cert) bool {
	if c == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(c.public, other.public) == 1
}

// Fingerprint returns a short hex BLAKE3 digest of the public key,
// used to identify certificates in diagnostics.
func (c *Cert) Fingerprint() string {
	sum := blake3.Sum256(c.public)
	return hex.EncodeToString(sum[:8])
}

// Keystore resolves a uid to that principal's public certificate.
//
// With Dir set, certificates live at "<Dir>/<uid>.pub". Otherwise the
// principal's home directory is consulted at the conventional location
// "~/.flux/curve/sig.pub".
type Keystore struct {
	Dir string
}

// Lookup loads the public certificate registered for uid.
func (k Keystore) Lookup(uid int64) (*Cert, error) {
	path, err := k.path(uid)
	if err != nil {
		return nil, err
	}
	return Load(path, false)
}

func (k Keystore) path(uid int64) (string, error) {
	if k.Dir != "" {
		return filepath.Join(k.Dir, strconv.FormatInt(uid, 10)), nil
	}
	principal, err := user.LookupId(strconv.FormatInt(uid, 10))
	if err != nil {
		return "", fmt.Errorf("sigcert: unknown uid %d: %w", uid, err)
	}
	return filepath.Join(principal.HomeDir, ".flux", "curve", "sig"), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
