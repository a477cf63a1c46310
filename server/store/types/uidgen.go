package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// IdGenerator produces short opaque ids for in-memory objects such as sessions.
// Ids come from a snowflake sequence encrypted with XTEA so they look random
// and don't leak the sequence.
type IdGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

const idBase64Unpadded = 11

// Init initialises the generator. Repeated calls on an initialized generator are no-ops.
func (ig *IdGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ig.seq == nil {
		if ig.seq, err = sf.NewSnowFlake(uint32(workerID)); err != nil {
			return err
		}
	}
	if ig.cipher == nil {
		if len(key) != 16 {
			return errors.New("id generator: key must be 16 bytes long")
		}
		if ig.cipher, err = xtea.NewCipher(key); err != nil {
			return err
		}
	}

	return nil
}

// Get generates a unique weakly encrypted 64-bit id.
func (ig *IdGenerator) Get() uint64 {
	buf, err := ig.next()
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf)
}

// GetStr generates a unique id then returns it as an unpadded base64 string.
func (ig *IdGenerator) GetStr() string {
	buf, err := ig.next()
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(buf)[:idBase64Unpadded]
}

func (ig *IdGenerator) next() ([]byte, error) {
	if ig.seq == nil || ig.cipher == nil {
		return nil, errors.New("id generator: not initialized")
	}

	id, err := ig.seq.Next()
	if err != nil {
		return nil, err
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ig.cipher.Encrypt(dst, src)

	return dst, nil
}
