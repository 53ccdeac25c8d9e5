package cache

import (
	"encoding"
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/dcache/gplazma/pkg/auth"
)

// Key identifies a cache entry: a 32-byte BLAKE3 keyed hash.
type Key [32]byte

func (k Key) String() string { return hex.EncodeToString(k[:8]) }

// KeyFunc derives the cache key of a subject.
type KeyFunc func(subject *auth.Subject) Key

type domainKey [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes.
var (
	principalDomainKey = domainKey{
		'g', 'p', 'l', 'a', 'z', 'm', 'a', '.', 'c', 'a', 'c', 'h', 'e', '.',
		'p', 'r', 'i', 'n', 'c', 'i', 'p', 'a', 'l', 's', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	credentialDomainKey = domainKey{
		'g', 'p', 'l', 'a', 'z', 'm', 'a', '.', 'c', 'a', 'c', 'h', 'e', '.',
		'c', 'r', 'e', 'd', 'e', 'n', 't', 'i', 'a', 'l', 's', 0, 0, 0, 0, 0, 0, 0,
	}
)

// PrincipalKey hashes the subject's principal set only. Two subjects with
// equal principals share an entry whatever their credentials.
func PrincipalKey(subject *auth.Subject) Key {
	return keyedHash(principalDomainKey, encodePrincipals(nil, subject))
}

// CredentialAwareKey hashes the principal set together with a fingerprint of
// every credential that exposes its bytes ([]byte, string,
// encoding.BinaryMarshaler or a Bytes() method). Other credentials do not
// contribute. Credential material is only ever hashed, never stored.
func CredentialAwareKey(subject *auth.Subject) Key {
	buf := encodePrincipals(nil, subject)
	if subject != nil {
		fp := credentialFingerprint(subject)
		buf = append(buf, fp[:]...)
	}
	return keyedHash(principalDomainKey, buf)
}

// encodePrincipals appends the canonical encoding of the sorted principal
// set: kind, primary flag, numeric id, then the length-prefixed name.
func encodePrincipals(buf []byte, subject *auth.Subject) []byte {
	if subject == nil {
		return buf
	}
	for _, p := range subject.Principals() {
		primary := byte(0)
		if p.Primary {
			primary = 1
		}
		buf = append(buf, byte(p.Kind), primary)
		buf = binary.BigEndian.AppendUint32(buf, p.ID)
		buf = binary.AppendUvarint(buf, uint64(len(p.Name)))
		buf = append(buf, p.Name...)
	}
	return buf
}

func credentialFingerprint(subject *auth.Subject) Key {
	hasher, err := blake3.NewKeyed(credentialDomainKey[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var lenBuf []byte
	write := func(tag byte, creds []any) {
		for _, c := range creds {
			b, ok := credentialBytes(c)
			if !ok {
				continue
			}
			lenBuf = binary.AppendUvarint(append(lenBuf[:0], tag), uint64(len(b)))
			hasher.Write(lenBuf)
			hasher.Write(b)
		}
	}
	write('u', subject.PublicCredentials)
	write('p', subject.PrivateCredentials)

	var k Key
	copy(k[:], hasher.Sum(nil))
	return k
}

func credentialBytes(c any) ([]byte, bool) {
	switch v := c.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	case interface{ Bytes() []byte }:
		return v.Bytes(), true
	case encoding.BinaryMarshaler:
		b, err := v.MarshalBinary()
		return b, err == nil
	}
	return nil, false
}

func keyedHash(key domainKey, data []byte) Key {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var k Key
	copy(k[:], hasher.Sum(nil))
	return k
}
