package gpgverify

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
)

func newSigner(t *testing.T) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("Test Archive Signing Key", "", "archive@example.org", nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestVerifyDetachedGoodSignature(t *testing.T) {
	dir := t.TempDir()
	signer := newSigner(t)

	release := filepath.Join(dir, "Release")
	os.WriteFile(release, []byte("Origin: Example\nSuite: stable\n"), 0644)

	var sig bytes.Buffer
	f, err := os.Open(release)
	if err != nil {
		t.Fatal(err)
	}
	if err := openpgp.DetachSign(&sig, signer, f, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()
	sigPath := release + ".gpg"
	os.WriteFile(sigPath, sig.Bytes(), 0644)

	if err := VerifyDetached(openpgp.EntityList{signer}, release, sigPath); err != nil {
		t.Fatalf("good signature rejected: %v", err)
	}
}

func TestVerifyDetachedWrongKey(t *testing.T) {
	dir := t.TempDir()
	signer := newSigner(t)
	other := newSigner(t)

	release := filepath.Join(dir, "Release")
	os.WriteFile(release, []byte("Origin: Example\n"), 0644)

	var sig bytes.Buffer
	f, _ := os.Open(release)
	if err := openpgp.DetachSign(&sig, signer, f, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()
	sigPath := release + ".gpg"
	os.WriteFile(sigPath, sig.Bytes(), 0644)

	err := VerifyDetached(openpgp.EntityList{other}, release, sigPath)
	var untrusted *ErrUntrusted
	if !errors.As(err, &untrusted) {
		t.Fatalf("signature from an untrusted key verified: %v", err)
	}
}

func TestMissingSignatureIsUntrusted(t *testing.T) {
	dir := t.TempDir()
	release := filepath.Join(dir, "Release")
	os.WriteFile(release, []byte("Origin: Example\n"), 0644)

	err := VerifyDetached(openpgp.EntityList{newSigner(t)}, release, release+".gpg")
	var untrusted *ErrUntrusted
	if !errors.As(err, &untrusted) {
		t.Fatalf("missing signature should be ErrUntrusted, got %v", err)
	}
}

func TestLoadKeyringDirMissing(t *testing.T) {
	keys, err := LoadKeyringDir(filepath.Join(t.TempDir(), "no-such-dir"))
	if err != nil || keys != nil {
		t.Fatalf("missing keyring dir: keys=%v err=%v", keys, err)
	}
}
