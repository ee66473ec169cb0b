package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/windrose-sh/windrose/pkg/types"
)

// GenerateSSHKey creates an ed25519 keypair in OpenSSH encoding: the
// public half in authorized_keys format, the private half PEM encoded.
// Projects get one at creation time; backends install the public half
// on every instance they launch.
func GenerateSSHKey(comment string) (types.SSHKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.SSHKey{}, fmt.Errorf("failed to generate ssh key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return types.SSHKey{}, fmt.Errorf("failed to encode ssh public key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return types.SSHKey{}, fmt.Errorf("failed to encode ssh private key: %w", err)
	}

	public := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		public += " " + comment
	}

	return types.SSHKey{
		Public:  public,
		Private: string(pem.EncodeToMemory(block)),
	}, nil
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys
// formatted public key.
func Fingerprint(publicKey string) (string, error) {
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}
