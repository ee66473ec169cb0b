package gateway

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/log"
)

// letsEncryptDirectory is the production ACME directory used when no
// other directory is configured.
const letsEncryptDirectory = "https://acme-v02.api.letsencrypt.org/directory"

// defaultCertsDir is where issuers install certificates. Rendered site
// configs reference this layout, which matches certbot's.
const defaultCertsDir = "/etc/letsencrypt/live"

// CertIssuer obtains the TLS certificate for a domain before its site
// config is applied. Certificates land under <certs dir>/<domain>/ as
// fullchain.pem and privkey.pem.
type CertIssuer interface {
	Issue(ctx context.Context, domain string) error
}

// NoopIssuer skips issuance, for hosts where certificates are provisioned
// out of band.
type NoopIssuer struct{}

func (NoopIssuer) Issue(ctx context.Context, domain string) error { return nil }

// CertbotIssuer obtains certificates by shelling out to certbot on the
// gateway host. Certbot needs root, so the command runs under sudo.
type CertbotIssuer struct {
	logger zerolog.Logger
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewCertbotIssuer() *CertbotIssuer {
	return &CertbotIssuer{
		logger: log.WithComponent("certbot"),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (i *CertbotIssuer) Issue(ctx context.Context, domain string) error {
	i.logger.Info().Str("domain", domain).Msg("Running certbot")

	args := []string{
		"certbot", "certonly",
		"--non-interactive",
		"--agree-tos",
		"--register-unsafely-without-email",
		"--nginx",
		"--domain", domain,
	}
	out, err := i.run(ctx, "sudo", args...)
	if err != nil {
		return fmt.Errorf("certbot failed for %s: %w: %s", domain, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// acmeUser carries the account lego registers with the ACME server.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ACMEConfig configures an ACMEIssuer. Zero values select the Let's
// Encrypt production directory, an email-less account and the
// certbot-compatible live directory.
type ACMEConfig struct {
	DirectoryURL string
	Email        string
	CertsDir     string
}

// ACMEIssuer obtains certificates straight from an ACME directory using
// HTTP-01 challenges served on port 80, for gateway hosts without
// certbot. The account is registered once at construction time.
type ACMEIssuer struct {
	client   *lego.Client
	certsDir string
	logger   zerolog.Logger
}

func NewACMEIssuer(cfg ACMEConfig) (*ACMEIssuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	user := &acmeUser{email: cfg.Email, key: key}

	config := lego.NewConfig(user)
	config.CADirURL = letsEncryptDirectory
	if cfg.DirectoryURL != "" {
		config.CADirURL = cfg.DirectoryURL
	}
	config.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create acme client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80")); err != nil {
		return nil, fmt.Errorf("failed to set http-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("failed to register acme account: %w", err)
	}
	user.registration = reg

	certsDir := cfg.CertsDir
	if certsDir == "" {
		certsDir = defaultCertsDir
	}

	return &ACMEIssuer{
		client:   client,
		certsDir: certsDir,
		logger:   log.WithComponent("acme"),
	}, nil
}

func (i *ACMEIssuer) Issue(ctx context.Context, domain string) error {
	i.logger.Info().Str("domain", domain).Msg("Requesting certificate")

	res, err := i.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate for %s: %w", domain, err)
	}

	dir := filepath.Join(i.certsDir, domain)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), res.Certificate, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), res.PrivateKey, 0600); err != nil {
		return err
	}

	i.logger.Info().Str("domain", domain).Msg("Certificate installed")
	return nil
}
