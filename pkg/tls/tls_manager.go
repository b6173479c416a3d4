package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
)

// Config is the [TLS] section.
type Config struct {
	Enabled      bool
	LetsEncrypt  bool
	Domain       string
	Email        string
	CertCache    string
	RedirectHTTP bool
	CertFile     string
	KeyFile      string
	HTTPSPort    string
}

// ConfigFromSettings reads the [TLS] section.
func ConfigFromSettings() Config {
	return Config{
		Enabled:      configuration.GetBool("TLS", "enabled", false),
		LetsEncrypt:  configuration.GetBool("TLS", "lets_encrypt", false),
		Domain:       configuration.GetString("TLS", "domain", ""),
		Email:        configuration.GetString("TLS", "email", ""),
		CertCache:    configuration.GetString("TLS", "cert_cache", "./certs"),
		RedirectHTTP: configuration.GetBool("TLS", "redirect_http", true),
		CertFile:     configuration.GetString("TLS", "cert_file", ""),
		KeyFile:      configuration.GetString("TLS", "key_file", ""),
		HTTPSPort:    configuration.GetString("TLS", "port", "443"),
	}
}

// TLSManager provides the TLS configuration for the HTTPS listener, either
// from certificate files or from Let's Encrypt.
type TLSManager struct {
	config      Config
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// NewTLSManager validates cfg and prepares certificates when TLS is on.
func NewTLSManager(cfg Config) (*TLSManager, error) {
	tm := &TLSManager{config: cfg}
	if !cfg.Enabled {
		return tm, nil
	}
	if err := tm.validateConfig(); err != nil {
		return nil, fmt.Errorf("TLS configuration: %w", err)
	}
	var err error
	if cfg.LetsEncrypt {
		err = tm.initializeLetsEncrypt()
	} else {
		err = tm.initializeManualTLS()
	}
	if err != nil {
		return nil, fmt.Errorf("TLS initialization: %w", err)
	}
	return tm, nil
}

func (tm *TLSManager) validateConfig() error {
	if tm.config.LetsEncrypt {
		if strings.TrimSpace(tm.config.Domain) == "" {
			return errors.New("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(tm.config.Email) == "" {
			return errors.New("email is required when Let's Encrypt is enabled")
		}
		return nil
	}
	if tm.config.CertFile == "" || tm.config.KeyFile == "" {
		return errors.New("cert_file and key_file are required without Let's Encrypt")
	}
	return nil
}

func (tm *TLSManager) initializeLetsEncrypt() error {
	logger.Info(logger.AreaSecurity, "Initializing Let's Encrypt for domain: %s", tm.config.Domain)
	if err := os.MkdirAll(tm.config.CertCache, 0700); err != nil {
		return fmt.Errorf("create certificate cache: %w", err)
	}
	tm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(tm.config.CertCache),
		Prompt:     autocert.AcceptTOS,
		Email:      tm.config.Email,
		HostPolicy: autocert.HostWhitelist(tm.config.Domain, "www."+tm.config.Domain),
	}
	tm.tlsConfig = tm.autocertMgr.TLSConfig()
	tm.tlsConfig.MinVersion = tls.VersionTLS12
	return nil
}

func (tm *TLSManager) initializeManualTLS() error {
	logger.Info(logger.AreaSecurity, "Loading TLS certificate %s", tm.config.CertFile)
	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	tm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	return nil
}

// IsEnabled reports whether an HTTPS listener should be started.
func (tm *TLSManager) IsEnabled() bool {
	return tm.config.Enabled
}

// GetTLSConfig returns nil when TLS is disabled.
func (tm *TLSManager) GetTLSConfig() *tls.Config {
	if !tm.config.Enabled {
		return nil
	}
	return tm.tlsConfig
}

// GetHTTPSPort returns the HTTPS listen port.
func (tm *TLSManager) GetHTTPSPort() string {
	return tm.config.HTTPSPort
}

// NeedsHTTPServer reports whether the plain listener only serves ACME
// challenges and redirects.
func (tm *TLSManager) NeedsHTTPServer() bool {
	return tm.config.Enabled && (tm.config.LetsEncrypt || tm.config.RedirectHTTP)
}

// HTTPHandler answers ACME challenges and redirects everything else to
// HTTPS when redirects are enabled; otherwise it returns fallback.
func (tm *TLSManager) HTTPHandler(fallback http.Handler) http.Handler {
	h := fallback
	if tm.config.RedirectHTTP {
		h = tm.redirectHandler()
	}
	if tm.autocertMgr != nil {
		return tm.autocertMgr.HTTPHandler(h)
	}
	return h
}

func (tm *TLSManager) redirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if tm.config.HTTPSPort != "" && tm.config.HTTPSPort != "443" {
			target += ":" + tm.config.HTTPSPort
		}
		target += r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}
