package security

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("a-test-secret-of-sufficient-length")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"key":"LGABCDEFGHJKLMNPQR","machine_id":"abc"}`)

	sealed, err := Encrypt(plaintext, testSecret)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "LGABCDEFGHJKLMNPQR")

	opened, err := Decrypt(sealed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptProducesFreshEnvelopeEachTime(t *testing.T) {
	plaintext := []byte("same input")

	first, err := Encrypt(plaintext, testSecret)
	require.NoError(t, err)
	second, err := Encrypt(plaintext, testSecret)
	require.NoError(t, err)

	// Fresh salt and nonce per call.
	assert.NotEqual(t, first, second)
}

func TestEncryptRejectsBadInput(t *testing.T) {
	_, err := Encrypt(nil, testSecret)
	assert.Error(t, err)

	_, err = Encrypt([]byte("data"), []byte("too short"))
	assert.Error(t, err)
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	sealed, err := Encrypt([]byte("confidential"), testSecret)
	require.NoError(t, err)

	_, err = Decrypt(sealed, []byte("another-secret-of-enough-length"))
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sealed, err := Encrypt([]byte("confidential"), testSecret)
	require.NoError(t, err)

	var payload encryptedPayload
	require.NoError(t, json.Unmarshal(sealed, &payload))
	payload.Ciphertext[0] ^= 0xff
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = Decrypt(tampered, testSecret)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := Decrypt([]byte("not an envelope"), testSecret)
	assert.Error(t, err)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	sealed, err := Encrypt([]byte("confidential"), testSecret)
	require.NoError(t, err)

	var payload encryptedPayload
	require.NoError(t, json.Unmarshal(sealed, &payload))
	payload.Version = 99
	bumped, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = Decrypt(bumped, testSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}
