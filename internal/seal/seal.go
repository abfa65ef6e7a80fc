// Package seal implements the stream cipher applied to file blobs in the
// encrypted archive revision.
//
// Each blob is encrypted with AES in CTR mode. The 16-byte IV is built from
// the archive's 32-bit nonce epoch, the file's 64-bit nonce and a 32-bit
// block counter starting at zero:
//
//	[ epoch : 4 ][ nonce : 8 ][ block counter : 4 ]
//
// A (key, epoch, nonce) triple must never be used for two blobs.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// KeyIterations is the PBKDF2 iteration count used by DeriveKey.
const KeyIterations = 200_000

// ErrInvalidKey is returned for keys that are not 16, 24 or 32 bytes long.
var ErrInvalidKey = errors.New("invalid key length")

// Cipher encrypts and decrypts blobs under one archive key and epoch.
type Cipher struct {
	block cipher.Block
	epoch uint32
}

// New returns a Cipher for key and epoch.
func New(key []byte, epoch uint32) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, epoch: epoch}, nil
}

// Seal encrypts data in place with the given nonce.
func (c *Cipher) Seal(nonce uint64, data []byte) {
	c.stream(nonce).XORKeyStream(data, data)
}

// Reader returns a reader decrypting r with the given nonce.
func (c *Cipher) Reader(nonce uint64, r io.Reader) io.Reader {
	return &cipher.StreamReader{S: c.stream(nonce), R: r}
}

func (c *Cipher) stream(nonce uint64) cipher.Stream {
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint32(iv[0:4], c.epoch)
	binary.BigEndian.PutUint64(iv[4:12], nonce)
	return cipher.NewCTR(c.block, iv[:])
}

// DeriveKey stretches a passphrase into a 32-byte AES-256 key with
// PBKDF2-SHA256. The salt should be unique per archive.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, KeyIterations, 32, sha256.New)
}
