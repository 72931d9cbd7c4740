package service

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// Timer keys live in [KeyRangeBase, KeyRangeBase+KeyRangeSize) so they never
// collide with timers other parts of the host register.
const (
	KeyRangeBase = 700_000
	KeyRangeSize = 100_000_000
)

// KeyCodec derives the timer key for a (name, instant) pair.
// The generation counter is part of the input; Encode does not advance it.
type KeyCodec struct {
	loc        *time.Location
	generation atomic.Uint64
}

func NewKeyCodec(loc *time.Location) *KeyCodec {
	if loc == nil {
		loc = time.Local
	}
	return &KeyCodec{loc: loc}
}

// Advance starts a new key generation and returns it.
func (c *KeyCodec) Advance() uint64 {
	return c.generation.Add(1)
}

func (c *KeyCodec) Generation() uint64 {
	return c.generation.Load()
}

func (c *KeyCodec) Encode(name string, at time.Time) int32 {
	composite := c.composite(name, at)

	sum, err := digest(composite)
	if err != nil {
		log.Warn().Err(err).Str("component", "keycodec").Msg("digest failed, using string hash")
		h := fnv.New32a()
		h.Write([]byte(composite))
		return fold(h.Sum32())
	}
	return fold(binary.BigEndian.Uint32(sum[:4]))
}

func (c *KeyCodec) composite(name string, at time.Time) string {
	t := at.In(c.loc)
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d|%s|%d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), name, c.generation.Load())
}

func digest(s string) ([]byte, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(s))
	return h.Sum(nil), nil
}

func fold(v uint32) int32 {
	return int32(KeyRangeBase + v%KeyRangeSize)
}
