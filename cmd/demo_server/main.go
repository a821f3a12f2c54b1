package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"time"
)

// selfSigned builds a throwaway certificate for localhost. Register the demo
// with upstream_insecure_skip_verify enabled when using it.
func selfSigned() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "aegisgate-demo"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8443", "Listen address")
	certFile := flag.String("cert", "", "TLS certificate (self-signed if empty)")
	keyFile := flag.String("key", "", "TLS key")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "--- AegisGate Demo Upstream ---\n")
		fmt.Fprintf(w, "Time: %s\n", time.Now().Format(time.RFC1123))
		fmt.Fprintf(w, "Path: %s\n", r.URL.RequestURI())
		fmt.Fprintf(w, "X-Forwarded-For: %s\n", r.Header.Get("X-Forwarded-For"))
		fmt.Fprintf(w, "User-Agent: %s\n", r.UserAgent())
		log.Printf("Matched: %s %s from %s", r.Method, r.URL.Path, r.Header.Get("X-Forwarded-For"))
	})

	mux.HandleFunc("/api/heavy-export", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond) // Simulate work
		fmt.Fprintf(w, "Heavy data export complete\n")
	})

	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items":     []string{"alpha", "beta", "gamma"},
			"updatedAt": time.Now().UTC(),
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	if *certFile != "" && *keyFile != "" {
		log.Printf("Demo Upstream Server starting on https://%s...", *addr)
		log.Fatal(srv.ListenAndServeTLS(*certFile, *keyFile))
	}

	cert, err := selfSigned()
	if err != nil {
		log.Fatal(err)
	}
	srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	log.Printf("Demo Upstream Server starting on https://%s (self-signed)...", *addr)
	log.Fatal(srv.ListenAndServeTLS("", ""))
}
