package channel

import "testing"

import "github.com/stretchr/testify/assert"

func TestRecvSizer_ClampsInitial(t *testing.T) {
	s := newRecvSizer(4, 64, 1024)
	assert.Equal(t, 64, s.guess())

	s = newRecvSizer(2048, 64, 1024)
	assert.Equal(t, 1024, s.guess())
}

func TestRecvSizer_DoublesOnFullyConsumedRead(t *testing.T) {
	s := newRecvSizer(128, 64, 1024)
	s.record(128, 128)
	assert.Equal(t, 256, s.guess())
}

func TestRecvSizer_BlendsOnShortRead(t *testing.T) {
	s := newRecvSizer(128, 64, 1024)
	s.record(32, 128)
	// ema = 0.5*32 + 0.5*128 = 80
	assert.Equal(t, 80, s.guess())
}

func TestRecvSizer_NeverBelowMinimumOrAboveMaximum(t *testing.T) {
	s := newRecvSizer(64, 64, 128)
	for i := 0; i < 8; i++ {
		s.record(128, 128)
	}
	assert.Equal(t, 128, s.guess())

	s.record(0, 128)
	assert.GreaterOrEqual(t, s.guess(), 64)
}
