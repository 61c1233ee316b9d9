package integrity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigner_SignAndVerifyRoundTrip(t *testing.T) {
	signer := NewSigner(testSecret)
	body := []byte(`{"data":{"status":"active"}}`)

	tx := signer.Sign(body)

	require.True(t, strings.HasPrefix(tx.ID, "STXN-"))
	require.NotEmpty(t, tx.Timestamp)
	require.NotEmpty(t, tx.Nonce)
	require.Equal(t, Algorithm, tx.Algorithm)
	require.True(t, signer.VerifyTransaction(tx, body))
}

func TestSigner_FreshEnvelopePerResponse(t *testing.T) {
	signer := NewSigner(testSecret)
	body := []byte(`{}`)

	first := signer.Sign(body)
	second := signer.Sign(body)

	require.NotEqual(t, first.ID, second.ID)
	require.NotEqual(t, first.Nonce, second.Nonce)
	require.NotEqual(t, first.Signature, second.Signature)
}

func TestSigner_VerifyFailsOnBodyMutation(t *testing.T) {
	signer := NewSigner(testSecret)
	tx := signer.Sign([]byte(`{"amount":100}`))

	require.False(t, signer.VerifyTransaction(tx, []byte(`{"amount":101}`)))
}

func TestSigner_VerifyFailsOnEnvelopeMutation(t *testing.T) {
	signer := NewSigner(testSecret)
	body := []byte(`{"amount":100}`)
	tx := signer.Sign(body)

	tampered := tx
	tampered.ID = "STXN-forged"
	require.False(t, signer.VerifyTransaction(tampered, body))

	tampered = tx
	tampered.Timestamp = tx.Timestamp + "0"
	require.False(t, signer.VerifyTransaction(tampered, body))
}
