package feedtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerGenerateAndVerify(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("series-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	require.NoError(t, signer.Verify(token, "series-1"))
	require.ErrorIs(t, signer.Verify(token, "series-2"), ErrInvalid)
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }
	token, _, err := signer.Generate("series-1")
	require.NoError(t, err)

	signer.now = func() time.Time { return issued.Add(2 * time.Hour) }
	require.ErrorIs(t, signer.Verify(token, "series-1"), ErrInvalid)
}

func TestSignerRejectsForeignSecret(t *testing.T) {
	token, _, err := NewSigner("secret", time.Hour).Generate("series-1")
	require.NoError(t, err)

	require.ErrorIs(t, NewSigner("other", time.Hour).Verify(token, "series-1"), ErrInvalid)
}

func TestSignerRequiresSecret(t *testing.T) {
	_, _, err := NewSigner("", time.Hour).Generate("series-1")
	require.Error(t, err)
}
