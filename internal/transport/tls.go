package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/cloudflare"
	"go.uber.org/zap"
)

// TLSSource is the part of the configuration the certificate manager
// reads.
type TLSSource interface {
	Domain() string
	TLSStoragePath() string
	ACMEEmail() string
	CFAPIToken() string
	ACMEStaging() bool
}

const (
	renewalWindow     = 30 * 24 * time.Hour
	certWatchInterval = 30 * time.Second
)

// NewTLSConfig serves the certificate pair found in the storage path when
// it covers the domain and its wildcard, and otherwise obtains one over
// ACME with a Cloudflare DNS-01 challenge. The user certificate files are
// watched until ctx is done.
func NewTLSConfig(ctx context.Context, src TLSSource, logger *zap.Logger) (*tls.Config, error) {
	tm := newTLSManager(src, logger)
	if err := tm.initialize(ctx); err != nil {
		return nil, err
	}
	return tm.tlsConfig(), nil
}

type tlsManager struct {
	src    TLSSource
	logger *zap.Logger

	certPath    string
	keyPath     string
	storagePath string

	mu           sync.RWMutex
	userCert     *tls.Certificate
	magic        *certmagic.Config
	useCertMagic bool
}

func newTLSManager(src TLSSource, logger *zap.Logger) *tlsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := filepath.Clean(src.TLSStoragePath())
	return &tlsManager{
		src:         src,
		logger:      logger.Named("tls"),
		certPath:    filepath.Join(base, "cert.pem"),
		keyPath:     filepath.Join(base, "privkey.pem"),
		storagePath: filepath.Join(base, "certmagic"),
	}
}

func (tm *tlsManager) initialize(ctx context.Context) error {
	domain := tm.src.Domain()
	if tm.certFilesExist() && validateCertDomains(tm.certPath, domain, tm.logger) {
		tm.logger.Info("using user-provided certificates",
			zap.String("cert", tm.certPath), zap.String("key", tm.keyPath))
		if err := tm.loadUserCerts(); err != nil {
			return fmt.Errorf("failed to load user certificates: %w", err)
		}
		go newCertWatcher(tm, certWatchInterval).watch(ctx)
		return nil
	}

	tm.logger.Info("user certificates missing or incomplete, using ACME",
		zap.String("domain", domain))
	if err := tm.initCertMagic(ctx); err != nil {
		return fmt.Errorf("failed to initialize CertMagic: %w", err)
	}
	return nil
}

func (tm *tlsManager) certFilesExist() bool {
	for _, p := range []string{tm.certPath, tm.keyPath} {
		if _, err := os.Stat(p); err != nil {
			tm.logger.Debug("certificate file not usable", zap.String("path", p), zap.Error(err))
			return false
		}
	}
	return true
}

func (tm *tlsManager) loadUserCerts() error {
	cert, err := tls.LoadX509KeyPair(tm.certPath, tm.keyPath)
	if err != nil {
		return err
	}

	tm.mu.Lock()
	tm.userCert = &cert
	tm.mu.Unlock()
	return nil
}

func (tm *tlsManager) initCertMagic(ctx context.Context) error {
	if tm.src.CFAPIToken() == "" {
		return fmt.Errorf("CF_API_TOKEN environment variable is required for automatic certificate generation")
	}
	if err := os.MkdirAll(tm.storagePath, 0700); err != nil {
		return fmt.Errorf("failed to create cert storage directory: %w", err)
	}

	magic := tm.newCertMagicConfig()
	domains := []string{tm.src.Domain(), "*." + tm.src.Domain()}
	tm.logger.Info("requesting certificates", zap.Strings("domains", domains))
	if err := magic.ManageSync(ctx, domains); err != nil {
		return fmt.Errorf("failed to obtain certificates: %w", err)
	}

	tm.mu.Lock()
	tm.magic = magic
	tm.useCertMagic = true
	tm.mu.Unlock()
	return nil
}

func (tm *tlsManager) newCertMagicConfig() *certmagic.Config {
	var magic *certmagic.Config
	cache := certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (*certmagic.Config, error) {
			return magic, nil
		},
		Logger: tm.logger,
	})
	magic = certmagic.New(cache, certmagic.Config{
		Storage: &certmagic.FileStorage{Path: tm.storagePath},
		Logger:  tm.logger,
	})

	issuer := certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		Email:  tm.src.ACMEEmail(),
		Agreed: true,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &cloudflare.Provider{APIToken: tm.src.CFAPIToken()},
			},
		},
		Logger: tm.logger,
	})
	if tm.src.ACMEStaging() {
		issuer.CA = certmagic.LetsEncryptStagingCA
	} else {
		issuer.CA = certmagic.LetsEncryptProductionCA
	}
	tm.logger.Info("using ACME directory", zap.String("ca", issuer.CA))

	magic.Issuers = []certmagic.Issuer{issuer}
	return magic
}

// The server speaks HTTP/1.x only, so ALPN offers nothing else.
func (tm *tlsManager) tlsConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: tm.getCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"http/1.1"},
		ClientAuth:     tls.NoClientCert,
	}
}

func (tm *tlsManager) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.useCertMagic {
		return tm.magic.GetCertificate(hello)
	}
	if tm.userCert == nil {
		return nil, fmt.Errorf("no certificate available")
	}
	return tm.userCert, nil
}

func validateCertDomains(certPath, domain string, logger *zap.Logger) bool {
	cert, err := loadAndParseCertificate(certPath)
	if err != nil {
		logger.Warn("cannot read certificate", zap.String("path", certPath), zap.Error(err))
		return false
	}

	if remaining := time.Until(cert.NotAfter); remaining < renewalWindow {
		logger.Warn("certificate expired or expiring soon", zap.Time("not_after", cert.NotAfter))
		return false
	}

	hasBase, hasWildcard := checkDomainCoverage(extractCertDomains(cert), domain)
	if !hasBase || !hasWildcard {
		logger.Warn("certificate does not cover required domains",
			zap.String("domain", domain), zap.Bool("base", hasBase), zap.Bool("wildcard", hasWildcard))
		return false
	}
	return true
}

func loadAndParseCertificate(certPath string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	return x509.ParseCertificate(block.Bytes)
}

func extractCertDomains(cert *x509.Certificate) []string {
	var domains []string
	if cert.Subject.CommonName != "" {
		domains = append(domains, cert.Subject.CommonName)
	}
	return append(domains, cert.DNSNames...)
}

func checkDomainCoverage(certDomains []string, domain string) (hasBase, hasWildcard bool) {
	wildcardDomain := "*." + domain
	for _, d := range certDomains {
		switch d {
		case domain:
			hasBase = true
		case wildcardDomain:
			hasWildcard = true
		}
	}
	return hasBase, hasWildcard
}

type certWatcher struct {
	tm          *tlsManager
	interval    time.Duration
	lastCertMod time.Time
	lastKeyMod  time.Time
}

func newCertWatcher(tm *tlsManager, interval time.Duration) *certWatcher {
	cw := &certWatcher{tm: tm, interval: interval}
	if info, err := os.Stat(tm.certPath); err == nil {
		cw.lastCertMod = info.ModTime()
	}
	if info, err := os.Stat(tm.keyPath); err == nil {
		cw.lastKeyMod = info.ModTime()
	}
	return cw
}

func (cw *certWatcher) watch(ctx context.Context) {
	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cw.checkAndReload(ctx) {
				return
			}
		}
	}
}

// checkAndReload reports true once the manager has switched to ACME and
// the files no longer need watching.
func (cw *certWatcher) checkAndReload(ctx context.Context) bool {
	certInfo, certErr := os.Stat(cw.tm.certPath)
	keyInfo, keyErr := os.Stat(cw.tm.keyPath)
	if certErr != nil || keyErr != nil {
		return false
	}
	if !certInfo.ModTime().After(cw.lastCertMod) && !keyInfo.ModTime().After(cw.lastKeyMod) {
		return false
	}

	logger := cw.tm.logger
	logger.Info("certificate files changed, reloading")

	if !validateCertDomains(cw.tm.certPath, cw.tm.src.Domain(), logger) {
		if err := cw.tm.initCertMagic(ctx); err != nil {
			logger.Error("failed to switch to ACME certificates", zap.Error(err))
			return false
		}
		return true
	}

	if err := cw.tm.loadUserCerts(); err != nil {
		logger.Error("failed to reload certificates", zap.Error(err))
		return false
	}
	cw.lastCertMod = certInfo.ModTime()
	cw.lastKeyMod = keyInfo.ModTime()
	logger.Info("certificates reloaded")
	return false
}
