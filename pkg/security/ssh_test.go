package security

import (
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// TestGenerateSSHKey tests keypair generation and encoding
func TestGenerateSSHKey(t *testing.T) {
	key, err := GenerateSSHKey("windrose-project-p1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key.Public, "ssh-ed25519 "), "public key should be authorized_keys formatted")
	assert.True(t, strings.HasSuffix(key.Public, " windrose-project-p1"))
	assert.NotContains(t, key.Public, "\n")

	parsed, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(key.Public))
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", parsed.Type())
	assert.Equal(t, "windrose-project-p1", comment)

	block, rest := pem.Decode([]byte(key.Private))
	require.NotNil(t, block, "private key should be PEM encoded")
	assert.Empty(t, rest)
	assert.Equal(t, "OPENSSH PRIVATE KEY", block.Type)

	signer, err := ssh.ParsePrivateKey([]byte(key.Private))
	require.NoError(t, err)
	assert.Equal(t, parsed.Marshal(), signer.PublicKey().Marshal(), "halves should belong to the same keypair")
}

// TestGenerateSSHKeyUnique tests that every call produces a fresh key
func TestGenerateSSHKeyUnique(t *testing.T) {
	a, err := GenerateSSHKey("")
	require.NoError(t, err)
	b, err := GenerateSSHKey("")
	require.NoError(t, err)
	assert.NotEqual(t, a.Public, b.Public)
	assert.NotEqual(t, a.Private, b.Private)
}

// TestFingerprint tests fingerprinting of generated keys
func TestFingerprint(t *testing.T) {
	key, err := GenerateSSHKey("")
	require.NoError(t, err)

	fp, err := Fingerprint(key.Public)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))

	// Stable for the same key.
	fp2, err := Fingerprint(key.Public)
	require.NoError(t, err)
	assert.Equal(t, fp, fp2)

	_, err = Fingerprint("not a key")
	assert.Error(t, err)
}
