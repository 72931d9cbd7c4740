package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyCodec_StableForSameInput(t *testing.T) {
	c := NewKeyCodec(time.UTC)
	at := time.Date(2025, 3, 1, 15, 45, 0, 0, time.UTC)

	assert.Equal(t, c.Encode("Asr", at), c.Encode("Asr", at))
	// seconds are below the composite's granularity
	assert.Equal(t, c.Encode("Asr", at), c.Encode("Asr", at.Add(30*time.Second)))
}

func TestKeyCodec_InReservedRange(t *testing.T) {
	c := NewKeyCodec(time.UTC)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		k := c.Encode("Fajr", start.Add(time.Duration(i)*time.Hour))
		assert.GreaterOrEqual(t, k, int32(KeyRangeBase))
		assert.Less(t, k, int32(KeyRangeBase+KeyRangeSize))
	}
}

func TestKeyCodec_DistinctAcrossNamesAndDays(t *testing.T) {
	c := NewKeyCodec(time.UTC)
	start := time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)

	seen := make(map[int32]string)
	for day := 0; day < 60; day++ {
		at := start.AddDate(0, 0, day)
		for _, name := range []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"} {
			k := c.Encode(name, at)
			id := name + at.Format("2006-01-02")
			if prev, ok := seen[k]; ok {
				t.Fatalf("key %d collides: %s and %s", k, prev, id)
			}
			seen[k] = id
		}
	}
}

func TestKeyCodec_AdvanceChangesKeys(t *testing.T) {
	c := NewKeyCodec(time.UTC)
	at := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)

	before := c.Encode("Dhuhr", at)
	assert.Equal(t, uint64(1), c.Advance())
	after := c.Encode("Dhuhr", at)

	assert.NotEqual(t, before, after)
	assert.Equal(t, after, c.Encode("Dhuhr", at))
}

func TestKeyCodec_UsesCodecLocation(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*3600)
	c := NewKeyCodec(riyadh)
	at := time.Date(2025, 3, 1, 9, 15, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-01T12:15|Dhuhr|0", c.composite("Dhuhr", at))
}
