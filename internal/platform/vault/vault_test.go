package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grabbit/internal/platform/hosts"
)

const validBlob = ".youtube.com\tTRUE\t/\tTRUE\t2000000000\tSID\tabc\n" +
	".youtube.com\tTRUE\t/\tTRUE\t2000000000\tHSID\tdef\n"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir(), hosts.DefaultLinkage())
	if err != nil {
		t.Fatalf("vault init: %v", err)
	}
	return v
}

func TestKeyRoundTrip(t *testing.T) {
	root := t.TempDir()
	linkage := hosts.DefaultLinkage()

	v1, err := New(root, linkage)
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, _, err := v1.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// A second vault over the same root must load the same key and decrypt.
	v2, err := New(root, linkage)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	plaintext, err := v2.Decrypt("youtube")
	if err != nil {
		t.Fatalf("decrypt with reloaded key: %v", err)
	}
	if !strings.Contains(string(plaintext), "SID") {
		t.Errorf("decrypted plaintext wrong: %q", plaintext)
	}
}

func TestCorruptKeyFileIsHardFailure(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cookie_key.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := New(root, hosts.DefaultLinkage())
	if !errors.Is(err, ErrVaultInit) {
		t.Errorf("expected ErrVaultInit, got %v", err)
	}
}

func TestIngestDetectsSlotFromDomains(t *testing.T) {
	v := newTestVault(t)
	slot, count, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if slot != "youtube" || count != 2 {
		t.Errorf("got slot=%s count=%d", slot, count)
	}
	meta, err := v.ReadMeta("youtube")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Validated || meta.ValidationType != ValidationNever {
		t.Errorf("fresh slot must be unvalidated: %+v", meta)
	}
}

func TestIngestMultiHostBlobUsesPrecedence(t *testing.T) {
	v := newTestVault(t)
	blob := ".tiktok.com\tTRUE\t/\tTRUE\t2000000000\tsessionid\tx\n" +
		".youtube.com\tTRUE\t/\tTRUE\t2000000000\tSID\ty\n"
	slot, _, err := v.Ingest(context.Background(), blob, hosts.HostUnknown)
	if err != nil {
		t.Fatalf("two recognized hosts must not raise platform-undetermined: %v", err)
	}
	if slot != "youtube" {
		t.Errorf("expected first-declared slot, got %s", slot)
	}
}

func TestIngestUndetectable(t *testing.T) {
	v := newTestVault(t)
	blob := ".example.org\tTRUE\t/\tTRUE\t2000000000\tname\tval\n"
	_, _, err := v.Ingest(context.Background(), blob, hosts.HostUnknown)
	if !errors.Is(err, ErrPlatformUndetermined) {
		t.Errorf("expected ErrPlatformUndetermined, got %v", err)
	}
}

func TestFailedParseLeavesExistingSlotUntouched(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	before, err := os.ReadFile(v.encPath("youtube"))
	if err != nil {
		t.Fatal(err)
	}
	metaBefore, err := os.ReadFile(v.metaPath("youtube"))
	if err != nil {
		t.Fatal(err)
	}

	badBlob := ".youtube.com\tTRUE\t/\n"
	if _, _, err := v.Ingest(context.Background(), badBlob, hosts.HostYouTube); !errors.Is(err, ErrCookieParse) {
		t.Fatalf("expected ErrCookieParse, got %v", err)
	}

	after, _ := os.ReadFile(v.encPath("youtube"))
	metaAfter, _ := os.ReadFile(v.metaPath("youtube"))
	if string(before) != string(after) || string(metaBefore) != string(metaAfter) {
		t.Error("failed parse corrupted the existing slot")
	}
}

func TestWithPlaintextUnlinksOnReturn(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}

	var seen string
	err := v.WithPlaintext("youtube", func(path string) error {
		seen = path
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !strings.Contains(string(data), "SID") {
			t.Errorf("plaintext missing cookies: %q", data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope failed: %v", err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Error("plaintext file still exists after scope exit")
	}
}

func TestWithPlaintextUnlinksOnPanic(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}

	var seen string
	func() {
		defer func() { _ = recover() }()
		_ = v.WithPlaintext("youtube", func(path string) error {
			seen = path
			panic("boom")
		})
	}()
	if seen == "" {
		t.Fatal("scope never ran")
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Error("plaintext file survived a panic")
	}
}

func TestDecryptErrorPreservesCiphertext(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}

	// Flip a ciphertext byte.
	path := v.encPath("youtube")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Decrypt("youtube"); !errors.Is(err, ErrCookieDecrypt) {
		t.Fatalf("expected ErrCookieDecrypt, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("ciphertext must be preserved for operator diagnosis")
	}
}

func TestDeleteRemovesSlot(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("youtube"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v.Has("youtube") {
		t.Error("slot still present after delete")
	}
	if _, err := v.Decrypt("youtube"); !errors.Is(err, ErrSlotAbsent) {
		t.Errorf("expected ErrSlotAbsent, got %v", err)
	}
	// A second delete finds nothing to remove.
	if err := v.Delete("youtube"); !errors.Is(err, ErrSlotAbsent) {
		t.Errorf("expected ErrSlotAbsent on repeat delete, got %v", err)
	}
}

func TestDeleteEmptySlot(t *testing.T) {
	v := newTestVault(t)
	if err := v.Delete("youtube"); !errors.Is(err, ErrSlotAbsent) {
		t.Errorf("expected ErrSlotAbsent, got %v", err)
	}
}

type fakeProber struct{ err error }

func (f *fakeProber) ProbeWithCookies(_ context.Context, _, cookieFile string) error {
	if _, statErr := os.Stat(cookieFile); statErr != nil {
		return statErr
	}
	return f.err
}

func TestValidateFull(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	result, err := v.Validate(context.Background(), "youtube", &fakeProber{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result != ValidationFull {
		t.Errorf("expected full, got %s", result)
	}
	meta, _ := v.ReadMeta("youtube")
	if !meta.Validated || meta.ValidationType != ValidationFull || meta.LastValidatedAt == nil {
		t.Errorf("meta not updated: %+v", meta)
	}
}

func TestValidateSoftOnProbeFailure(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	result, err := v.Validate(context.Background(), "youtube", &fakeProber{err: errors.New("probe down")})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result != ValidationSoft {
		t.Errorf("essential cookies present, expected soft, got %s", result)
	}
}

func TestValidateSoftWithoutProbeURL(t *testing.T) {
	v := newTestVault(t)
	blob := ".instagram.com\tTRUE\t/\tTRUE\t2000000000\tsessionid\ts\n" +
		".instagram.com\tTRUE\t/\tTRUE\t2000000000\tcsrftoken\tc\n"
	if _, _, err := v.Ingest(context.Background(), blob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	// Instagram has no stable probe URL; cookie-name presence alone grades soft.
	result, err := v.Validate(context.Background(), "instagram", &fakeProber{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result != ValidationSoft {
		t.Errorf("expected soft, got %s", result)
	}
}

func TestValidateFailed(t *testing.T) {
	v := newTestVault(t)
	blob := ".youtube.com\tTRUE\t/\tTRUE\t2000000000\tnotessential\tx\n"
	if _, _, err := v.Ingest(context.Background(), blob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	result, err := v.Validate(context.Background(), "youtube", &fakeProber{err: errors.New("no")})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result != ValidationFailed {
		t.Errorf("expected failed, got %s", result)
	}
}

func TestScanAlertsStaleButKeepsSlot(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}
	// Backdate the credential.
	meta, _ := v.ReadMeta("youtube")
	meta.CreatedAt = meta.CreatedAt.AddDate(0, 0, -45)
	if err := v.writeMeta("youtube", meta); err != nil {
		t.Fatal(err)
	}

	var kinds []string
	v.Scan(context.Background(), &fakeProber{err: errors.New("down")}, func(kind, _ string) {
		kinds = append(kinds, kind)
	})

	var stale bool
	for _, k := range kinds {
		if k == "cookie_stale" {
			stale = true
		}
	}
	if !stale {
		t.Errorf("expected cookie_stale alert, got %v", kinds)
	}
	if !v.Has("youtube") {
		t.Error("scan must never auto-delete slots")
	}
}

func TestStatusReport(t *testing.T) {
	v := newTestVault(t)
	if _, _, err := v.Ingest(context.Background(), validBlob, hosts.HostUnknown); err != nil {
		t.Fatal(err)
	}

	statuses := v.Status(true)
	byName := make(map[string]SlotStatus)
	for _, s := range statuses {
		byName[s.Slot] = s
	}

	yt := byName["youtube"]
	if !yt.Exists || yt.CookieCount != 2 || yt.Validated {
		t.Errorf("unexpected youtube status: %+v", yt)
	}
	tw := byName["twitter"]
	if tw.Exists || tw.CookieCount != -1 {
		t.Errorf("unexpected twitter status: %+v", tw)
	}
}
