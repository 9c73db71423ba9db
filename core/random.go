package core

import (
	cryptorand "crypto/rand"
	"fmt"
	mathrand "math/rand"
	"sync"
)

// RandomSource feeds state, verifier, and jitter generation. Implementations
// must be safe for concurrent use.
type RandomSource interface {
	Bytes(n int) ([]byte, error)
	Float64() float64
}

// CryptoRandomSource draws from crypto/rand. Float64 values are derived
// from the same pool, so jitter shares the entropy source.
type CryptoRandomSource struct{}

func (CryptoRandomSource) Bytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("core: random byte count must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := cryptorand.Read(buf); err != nil {
		return nil, fmt.Errorf("core: read random bytes: %w", err)
	}
	return buf, nil
}

func (CryptoRandomSource) Float64() float64 {
	buf := make([]byte, 8)
	if _, err := cryptorand.Read(buf); err != nil {
		return 0
	}
	var value uint64
	for _, b := range buf {
		value = value<<8 | uint64(b)
	}
	// 53 bits of mantissa, same construction math/rand uses.
	return float64(value>>11) / (1 << 53)
}

// SeededRandomSource is a deterministic source for tests. A mutex guards
// the underlying generator, which is not safe for concurrent use on its own.
type SeededRandomSource struct {
	mu  sync.Mutex
	rng *mathrand.Rand
}

func NewSeededRandomSource(seed int64) *SeededRandomSource {
	return &SeededRandomSource{rng: mathrand.New(mathrand.NewSource(seed))}
}

func (s *SeededRandomSource) Bytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("core: random byte count must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, n)
	if _, err := s.rng.Read(buf); err != nil {
		return nil, fmt.Errorf("core: read seeded bytes: %w", err)
	}
	return buf, nil
}

func (s *SeededRandomSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
