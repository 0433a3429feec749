// Package vault stores per-host session cookies encrypted at rest. Plaintext
// exists on disk only inside a WithPlaintext scope and is unlinked on every
// exit path.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Data-Corruption/stdx/xlog"
	"golang.org/x/crypto/chacha20poly1305"

	"grabbit/internal/platform/hosts"
)

var (
	ErrVaultInit            = errors.New("vault initialization failed")
	ErrCookieParse          = errors.New("cookie parse failed")
	ErrCookieDecrypt        = errors.New("cookie decrypt failed")
	ErrPlatformUndetermined = errors.New("could not determine platform from cookie domains")
	ErrSlotAbsent           = errors.New("no credential stored for slot")
)

// ValidationType grades a stored credential.
type ValidationType string

const (
	ValidationNever  ValidationType = "never-validated"
	ValidationFull   ValidationType = "full"
	ValidationSoft   ValidationType = "soft"
	ValidationFailed ValidationType = "failed"
)

// Meta is the sidecar metadata persisted next to each ciphertext.
type Meta struct {
	Platform        string         `json:"platform"` // slot name
	CreatedAt       time.Time      `json:"created_at"`
	Size            int            `json:"size"` // cookie entry count at ingest
	Validated       bool           `json:"validated"`
	ValidationType  ValidationType `json:"validation_type"`
	LastValidatedAt *time.Time     `json:"last_validated_at,omitempty"`
}

type keyFile struct {
	Key       string    `json:"key"` // base64
	CreatedAt time.Time `json:"created_at"`
	Algorithm string    `json:"algorithm"`
}

const keyAlgorithm = "xchacha20poly1305"

// Vault is the encrypted cookie store. Safe for concurrent reads; ingest and
// delete for distinct slots may race harmlessly (distinct files).
type Vault struct {
	dir     string // <storage>/cookies_encrypted
	aead    cipher.AEAD
	linkage *hosts.Linkage
	now     func() time.Time
}

// New opens (or initializes) the vault. The key lives at
// <configRoot>/cookie_key.json; a missing file triggers generation, anything
// else wrong with it is a hard init failure so existing ciphertexts are never
// orphaned by a silently regenerated key.
func New(configRoot string, linkage *hosts.Linkage) (*Vault, error) {
	dir := filepath.Join(configRoot, "cookies_encrypted")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}

	key, err := loadOrCreateKey(filepath.Join(configRoot, "cookie_key.json"))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}

	return &Vault{dir: dir, aead: aead, linkage: linkage, now: time.Now}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var kf keyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("%w: key file corrupt: %v", ErrVaultInit, err)
		}
		if kf.Algorithm != keyAlgorithm {
			return nil, fmt.Errorf("%w: unsupported key algorithm %q", ErrVaultInit, kf.Algorithm)
		}
		key, err := base64.StdEncoding.DecodeString(kf.Key)
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: key material invalid", ErrVaultInit)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}
	kf := keyFile{
		Key:       base64.StdEncoding.EncodeToString(key),
		CreatedAt: time.Now(),
		Algorithm: keyAlgorithm,
	}
	blob, err := json.Marshal(kf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultInit, err)
	}
	return key, nil
}

// Linkage exposes the host-to-slot mapping the vault was built with.
func (v *Vault) Linkage() *hosts.Linkage { return v.linkage }

func (v *Vault) encPath(slot string) string  { return filepath.Join(v.dir, slot+".enc") }
func (v *Vault) metaPath(slot string) string { return filepath.Join(v.dir, slot+".json") }

// Ingest parses a cookie blob, resolves its slot, and encrypts it at rest.
// hostHint names the target host when the caller knows it; otherwise the
// slot is detected from cookie domains. A failed parse never touches an
// existing slot.
func (v *Vault) Ingest(ctx context.Context, blob string, hostHint hosts.Host) (string, int, error) {
	cookies, err := ParseNetscape(blob, v.now())
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrCookieParse, err)
	}

	var slot hosts.Slot
	var ok bool
	if hostHint != hosts.HostUnknown {
		slot, ok = v.linkage.SlotFor(hostHint)
		if !ok {
			return "", 0, fmt.Errorf("%w: host %s takes no credentials", ErrPlatformUndetermined, hostHint)
		}
	} else {
		slot, ok = v.linkage.SlotForCookieDomains(RegistrableDomains(cookies))
		if !ok {
			return "", 0, ErrPlatformUndetermined
		}
	}

	plaintext := []byte(SerializeNetscape(cookies))
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", 0, fmt.Errorf("encrypt: %w", err)
	}
	ciphertext := v.aead.Seal(nonce, nonce, plaintext, []byte(slot.Name))

	meta := Meta{
		Platform:       slot.Name,
		CreatedAt:      v.now(),
		Size:           len(cookies),
		Validated:      false,
		ValidationType: ValidationNever,
	}
	metaBlob, err := json.Marshal(meta)
	if err != nil {
		return "", 0, fmt.Errorf("marshal meta: %w", err)
	}

	// Write ciphertext then metadata; tmp+rename so a crash can't leave a
	// half-written slot.
	if err := writeAtomic(v.encPath(slot.Name), ciphertext, 0o600); err != nil {
		return "", 0, fmt.Errorf("write ciphertext: %w", err)
	}
	if err := writeAtomic(v.metaPath(slot.Name), metaBlob, 0o600); err != nil {
		return "", 0, fmt.Errorf("write metadata: %w", err)
	}

	xlog.Infof(ctx, "vault: ingested %d cookies into slot %s", len(cookies), slot.Name)
	return slot.Name, len(cookies), nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Has reports whether a credential is stored for the slot.
func (v *Vault) Has(slot string) bool {
	_, err := os.Stat(v.encPath(slot))
	return err == nil
}

// Decrypt returns the plaintext cookie file contents for a slot. Prefer
// WithPlaintext when a file path is needed.
func (v *Vault) Decrypt(slot string) ([]byte, error) {
	ciphertext, err := os.ReadFile(v.encPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotAbsent
		}
		return nil, fmt.Errorf("%w: %v", ErrCookieDecrypt, err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: ciphertext truncated", ErrCookieDecrypt)
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, []byte(slot))
	if err != nil {
		// Ciphertext is preserved for operator diagnosis.
		return nil, fmt.Errorf("%w: %v", ErrCookieDecrypt, err)
	}
	return plaintext, nil
}

// WithPlaintext decrypts the slot into a temp file, hands the path to fn,
// and unlinks the file on every exit path including panics.
func (v *Vault) WithPlaintext(slot string, fn func(cookieFile string) error) error {
	plaintext, err := v.Decrypt(slot)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "cookies-*.txt")
	if err != nil {
		return fmt.Errorf("create plaintext temp: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := os.Chmod(path, 0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod plaintext temp: %w", err)
	}
	if _, err := f.Write(plaintext); err != nil {
		_ = f.Close()
		return fmt.Errorf("write plaintext temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close plaintext temp: %w", err)
	}

	return fn(path)
}

// Delete removes a slot's ciphertext and metadata. Deleting a slot that
// holds nothing returns ErrSlotAbsent.
func (v *Vault) Delete(slot string) error {
	if !v.Has(slot) {
		return ErrSlotAbsent
	}
	if err := os.Remove(v.encPath(slot)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(v.metaPath(slot)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadMeta loads a slot's metadata sidecar.
func (v *Vault) ReadMeta(slot string) (*Meta, error) {
	data, err := os.ReadFile(v.metaPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotAbsent
		}
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("meta corrupt for slot %s: %w", slot, err)
	}
	return &m, nil
}

func (v *Vault) writeMeta(slot string, m *Meta) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeAtomic(v.metaPath(slot), blob, 0o600)
}

// SlotStatus is one row of the vault status report.
type SlotStatus struct {
	Slot            string
	Exists          bool
	AgeDays         int
	Validated       bool
	ValidationType  ValidationType
	LastValidatedAt *time.Time
	LinkedHosts     []string
	CookieCount     int    // -1 when not recomputed
	Fingerprint     string // short ciphertext SHA-256, for telling credentials apart
}

// Status reports every registered slot. When withCount is set, cookie counts
// are recomputed via a scoped decrypt.
func (v *Vault) Status(withCount bool) []SlotStatus {
	var out []SlotStatus
	for _, slot := range v.linkage.Slots {
		st := SlotStatus{
			Slot:           slot.Name,
			LinkedHosts:    slot.Hosts,
			ValidationType: ValidationNever,
			CookieCount:    -1,
		}
		meta, err := v.ReadMeta(slot.Name)
		if err == nil && v.Has(slot.Name) {
			st.Exists = true
			st.AgeDays = int(v.now().Sub(meta.CreatedAt).Hours() / 24)
			st.Validated = meta.Validated
			st.ValidationType = meta.ValidationType
			st.LastValidatedAt = meta.LastValidatedAt
			if sum, err := fileSHA256(v.encPath(slot.Name)); err == nil {
				st.Fingerprint = sum[:8]
			}
			if withCount {
				if plaintext, err := v.Decrypt(slot.Name); err == nil {
					if cookies, err := ParseNetscape(string(plaintext), v.now()); err == nil {
						st.CookieCount = len(cookies)
					}
				}
			}
		}
		out = append(out, st)
	}
	return out
}

// fileSHA256 fingerprints a file's content.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
