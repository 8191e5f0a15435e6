package xlocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode_Text(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Mode
	}{{"", ModeExclusive}, {"Exclusive", ModeExclusive}, {" shared ", ModeShared}} {
		got, err := ParseMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ParseMode("upgradable")
	assert.ErrorIs(t, err, ErrInvalidOptions)

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("shared")))
	assert.Equal(t, ModeShared, m)
	b, _ := m.MarshalText()
	assert.Equal(t, "shared", string(b))
	assert.Error(t, m.UnmarshalText([]byte("?")))
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestValidate(t *testing.T) {
	bg := context.Background()
	ctx, cancel := context.WithCancel(bg)
	defer cancel()

	assert.NoError(t, validate(bg, LockOptions{}))
	assert.NoError(t, validate(ctx, LockOptions{Mode: ModeShared}))
	assert.NoError(t, validate(bg, LockOptions{IfAvailable: true, Mode: ModeShared}))
	assert.NoError(t, validate(bg, LockOptions{Steal: true}))
	assert.ErrorIs(t, validate(ctx, LockOptions{IfAvailable: true}), ErrInvalidOptions)
	assert.ErrorIs(t, validate(ctx, LockOptions{Steal: true}), ErrInvalidOptions)
	assert.ErrorIs(t, validate(bg, LockOptions{Steal: true, IfAvailable: true}), ErrInvalidOptions)
	assert.ErrorIs(t, validate(bg, LockOptions{Steal: true, Mode: ModeShared}), ErrInvalidOptions)
}

func TestIsExpected(t *testing.T) {
	assert.True(t, IsExpected(ErrLockHeld))
	assert.True(t, IsExpected(ErrLockStolen))
	assert.True(t, IsExpected(ErrScopeDisposed))
	assert.False(t, IsExpected(ErrInvalidOptions))
	assert.False(t, IsExpected(nil))
}
