// Package gpgverify checks Release file signatures: a detached
// Release/Release.gpg pair or an inline-signed InRelease. It only answers
// "verified by a trusted key or not" — key management beyond reading the
// trusted-keys directory is out of scope; an absent or unverifiable
// signature downgrades the archive to untrusted rather than failing the
// fetch.
package gpgverify

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// ErrUntrusted reports a missing or failed signature check. Callers treat
// it as "authenticity missing": the data is usable but unauthenticated.
type ErrUntrusted struct {
	File   string
	Reason string
}

func (e *ErrUntrusted) Error() string {
	return fmt.Sprintf("gpgverify: %s is not signed by a trusted key: %s", e.File, e.Reason)
}

// LoadKeyringDir reads every key file under dir (armored or binary),
// in name order. A missing directory yields an empty keyring.
func LoadKeyringDir(dir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var keyring openpgp.EntityList
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		keys, err := readKeys(data)
		if err != nil {
			return nil, fmt.Errorf("gpgverify: reading %s: %w", name, err)
		}
		keyring = append(keyring, keys...)
	}
	return keyring, nil
}

func readKeys(data []byte) (openpgp.EntityList, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

// VerifyDetached checks signedPath against its detached signature at
// sigPath. The signature may be armored or binary.
func VerifyDetached(keyring openpgp.EntityList, signedPath, sigPath string) error {
	if len(keyring) == 0 {
		return &ErrUntrusted{File: signedPath, Reason: "no trusted keys configured"}
	}
	signed, err := os.Open(signedPath)
	if err != nil {
		return err
	}
	defer signed.Close()
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ErrUntrusted{File: signedPath, Reason: "signature file missing"}
		}
		return err
	}

	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN")) {
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, bytes.NewReader(sig), verifyConfig())
	} else {
		_, err = openpgp.CheckDetachedSignature(keyring, signed, bytes.NewReader(sig), verifyConfig())
	}
	if err != nil {
		return &ErrUntrusted{File: signedPath, Reason: err.Error()}
	}
	return nil
}

// VerifyInline checks a clearsigned InRelease file and returns the signed
// payload (the Release stanza text) on success.
func VerifyInline(keyring openpgp.EntityList, inReleasePath string) ([]byte, error) {
	data, err := os.ReadFile(inReleasePath)
	if err != nil {
		return nil, err
	}
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, &ErrUntrusted{File: inReleasePath, Reason: "no clearsigned block found"}
	}
	if len(keyring) == 0 {
		return block.Bytes, &ErrUntrusted{File: inReleasePath, Reason: "no trusted keys configured"}
	}
	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes),
		block.ArmoredSignature.Body, verifyConfig())
	if err != nil {
		return block.Bytes, &ErrUntrusted{File: inReleasePath, Reason: err.Error()}
	}
	return block.Bytes, nil
}

func verifyConfig() *packet.Config {
	return &packet.Config{}
}
