package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// domainKey is a 32-byte BLAKE3 key. The same bytes fingerprinted in two
// domains never collide.
type domainKey [32]byte

var (
	settingsDomainKey = domainKey{
		'e', 'x', 'c', 'e', 'r', 'p', 't', '.', 's', 'e', 't', 't', 'i', 'n', 'g', 's',
	}
	contentDomainKey = domainKey{
		'e', 'x', 'c', 'e', 'r', 'p', 't', '.', 'c', 'o', 'n', 't', 'e', 'n', 't',
	}
)

// SettingsFingerprint returns the hex fingerprint of the settings that
// produce a render. Map keys are encoded in sorted order so equal
// settings always fingerprint equally.
func SettingsFingerprint(s Settings) (string, error) {
	return fingerprint(settingsDomainKey, s)
}

// ContentFingerprint returns the hex fingerprint of any JSON-encodable
// value, typically a document tree.
func ContentFingerprint(v interface{}) (string, error) {
	return fingerprint(contentDomainKey, v)
}

func fingerprint(key domainKey, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprinting: %w", err)
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		return "", fmt.Errorf("creating keyed hasher: %w", err)
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
