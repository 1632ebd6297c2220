package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound2_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 2.5, Round2(2.495000001))
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, -0.13, Round2(-0.125))
	assert.Equal(t, 499.0, Round2(499))
}

func TestFromMajor(t *testing.T) {
	assert.Equal(t, int64(49900), FromMajor(499.00))
	assert.Equal(t, int64(13), FromMajor(0.125))
	assert.Equal(t, int64(-13), FromMajor(-0.125))
}

func TestMajor(t *testing.T) {
	assert.Equal(t, 499.0, Major(49900))
	assert.Equal(t, 0.01, Major(1))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "499.00", Format(49900))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-12.30", Format(-1230))
}
