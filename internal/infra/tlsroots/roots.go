package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// Pool is a set of trusted root certificates.
type Pool struct {
	certs *x509.CertPool
	added int
}

// NewPool returns a pool seeded with the system roots, or an empty pool
// when system is false or the platform has none.
func NewPool(system bool) *Pool {
	if system {
		if sys, err := x509.SystemCertPool(); err == nil {
			return &Pool{certs: sys}
		}
	}
	return &Pool{certs: x509.NewCertPool()}
}

// LoadPool returns the system roots plus the CAs found at path, which may
// be a PEM file or a directory of them.
func LoadPool(path string) (*Pool, error) {
	p := NewPool(true)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, domain.ErrConfiguration.Detailf("ca file %s", path).WithCause(err)
	}
	if fi.IsDir() {
		err = p.AddDir(path)
	} else {
		err = p.AddFile(path)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddFile adds every certificate in a PEM file.
func (p *Pool) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ErrConfiguration.Detailf("read ca file %s", path).WithCause(err)
	}
	if err := p.AddPEM(data); err != nil {
		return domain.ErrConfiguration.Detailf("ca file %s", path).WithCause(err)
	}
	return nil
}

// AddPEM adds every CERTIFICATE block in data. Other block types are
// skipped; data without any certificate is an error.
func (p *Pool) AddPEM(data []byte) error {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return domain.ErrConfiguration.WithDetails("parse certificate").WithCause(err)
		}
		p.certs.AddCert(cert)
		n++
	}
	if n == 0 {
		return domain.ErrConfiguration.WithDetails("no certificates in PEM data")
	}
	p.added += n
	return nil
}

// AddDir adds the .pem, .crt and .cer files in dir. A directory without a
// single certificate is an error.
func (p *Pool) AddDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.ErrConfiguration.Detailf("read ca dir %s", dir).WithCause(err)
	}
	before := p.added
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".cer":
			if err := p.AddFile(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	if p.added == before {
		return domain.ErrConfiguration.Detailf("no certificates in %s", dir)
	}
	return nil
}

// Added returns how many certificates were added beyond the system roots.
func (p *Pool) Added() int { return p.added }

// CertPool returns the underlying pool.
func (p *Pool) CertPool() *x509.CertPool { return p.certs }

// ClientConfig returns a client TLS config trusting the pool.
func (p *Pool) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certs,
		MinVersion: tls.VersionTLS12,
	}
}

// Transport returns a copy of http.DefaultTransport that trusts the pool.
func (p *Pool) Transport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = p.ClientConfig()
	return tr
}
