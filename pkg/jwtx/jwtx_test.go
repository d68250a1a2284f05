package jwtx_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanglebox/keywarden/pkg/jwtx"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func edKeyPEM(t *testing.T) ([]byte, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), pub
}

func TestHS256RoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := jwtx.NewSignerHS256(testSecret)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256(testSecret, "keywarden-test")

	claims := jwtx.NewAccessClaims("svc1", []string{"read", "write"}, "admin",
		time.Minute, "keywarden-test", time.Now())

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "svc1", got.Subject)
	require.Equal(t, []string{"read", "write"}, got.Scopes)
	require.Equal(t, "admin", got.Role)
	require.NotEmpty(t, got.ID)
}

func TestHS256RejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := jwtx.NewSignerHS256([]byte("too-short"))
	require.Error(t, err)
}

func TestEdDSARoundTrip(t *testing.T) {
	t.Parallel()

	pemKey, pub := edKeyPEM(t)
	signer, err := jwtx.NewSignerEdDSA(pemKey)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierEdDSA(pub, "keywarden-test")

	claims := jwtx.NewAccessClaims("svc2", []string{"read"}, "service",
		time.Minute, "keywarden-test", time.Now())

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "svc2", got.Subject)
}

func TestAlgorithmConfusionGuard(t *testing.T) {
	t.Parallel()

	pemKey, pub := edKeyPEM(t)
	hsSigner, err := jwtx.NewSignerHS256(testSecret)
	require.NoError(t, err)
	edSigner, err := jwtx.NewSignerEdDSA(pemKey)
	require.NoError(t, err)

	claims := jwtx.NewAccessClaims("svc1", nil, "service",
		time.Minute, "keywarden-test", time.Now())

	hsToken, err := hsSigner.Sign(claims)
	require.NoError(t, err)
	edToken, err := edSigner.Sign(claims)
	require.NoError(t, err)

	t.Run("EdDSA verifier refuses HS256 tokens", func(t *testing.T) {
		_, err := jwtx.NewVerifierEdDSA(pub, "keywarden-test").Verify(hsToken)
		require.ErrorIs(t, err, jwtx.ErrAlgMismatch)
	})

	t.Run("HS256 verifier refuses EdDSA tokens", func(t *testing.T) {
		_, err := jwtx.NewVerifierHS256(testSecret, "keywarden-test").Verify(edToken)
		require.ErrorIs(t, err, jwtx.ErrAlgMismatch)
	})
}

func TestVerifyFailures(t *testing.T) {
	t.Parallel()

	signer, err := jwtx.NewSignerHS256(testSecret)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256(testSecret, "keywarden-test")

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := verifier.Verify("definitely.not.a/jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("wrong secret is an invalid signature", func(t *testing.T) {
		claims := jwtx.NewAccessClaims("svc1", nil, "service",
			time.Minute, "keywarden-test", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		other := jwtx.NewVerifierHS256([]byte("ffffffffffffffffffffffffffffffff"), "keywarden-test")
		_, err = other.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("zero ttl is expired immediately", func(t *testing.T) {
		claims := jwtx.NewAccessClaims("svc1", nil, "service",
			0, "keywarden-test", time.Now().Add(-time.Second))
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		claims := jwtx.NewAccessClaims("svc1", nil, "service",
			time.Minute, "someone-else", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

func TestValidateExpiryUsesEmbeddedInstant(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	claims := jwtx.NewAccessClaims("svc1", nil, "service", time.Minute, "iss", now)

	require.NoError(t, claims.ValidateExpiry(now.Add(30*time.Second)))
	require.ErrorIs(t, claims.ValidateExpiry(now.Add(61*time.Second)), jwtx.ErrExpired)
	// Exactly at exp counts as expired.
	require.ErrorIs(t, claims.ValidateExpiry(now.Add(time.Minute)), jwtx.ErrExpired)
}
