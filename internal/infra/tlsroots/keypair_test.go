package tlsroots

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadKeyPair_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(bad, []byte("invalid"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadKeyPair(bad, bad); err == nil {
		t.Error("LoadKeyPair accepted an invalid pair")
	}
	if _, err := LoadKeyPair(filepath.Join(dir, "nope.crt"), filepath.Join(dir, "nope.key")); err == nil {
		t.Error("LoadKeyPair accepted missing files")
	}
}

func TestKeyPair_ServesTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, certPEM := writeSelfSigned(t, dir, "meshkv.test", 1)

	kp, err := LoadKeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if kp.NotAfter().Before(time.Now()) {
		t.Errorf("NotAfter() = %v", kp.NotAfter())
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = kp.ServerConfig()
	srv.StartTLS()
	defer srv.Close()

	pool := NewPool(false)
	if err := pool.AddPEM(certPEM); err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: pool.Transport()}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	// A client without the CA must fail the handshake.
	if _, err := (&http.Client{Transport: NewPool(false).Transport()}).Get(srv.URL); err == nil {
		t.Error("untrusted client connected")
	}
}

func TestKeyPair_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, _ := writeSelfSigned(t, dir, "first.test", 1)

	kp, err := LoadKeyPair(certFile, keyFile, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if err := kp.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer kp.Stop()

	writeSelfSigned(t, dir, "second.test", 2)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if commonName(t, kp) == "second.test" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("certificate not reloaded, still %q", commonName(t, kp))
}

func TestKeyPair_KeepsCertOnBadReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, _ := writeSelfSigned(t, dir, "good.test", 1)

	kp, err := LoadKeyPair(certFile, keyFile, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if err := kp.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(certFile, []byte("truncated"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := commonName(t, kp); got != "good.test" {
		t.Errorf("certificate = %q after a bad reload", got)
	}

	if err := kp.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := kp.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func commonName(t *testing.T, kp *KeyPair) string {
	t.Helper()
	cert, err := kp.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || cert == nil || cert.Leaf == nil {
		t.Fatalf("GetCertificate = %v, %v", cert, err)
	}
	return cert.Leaf.Subject.CommonName
}
