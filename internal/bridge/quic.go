package bridge

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
)

// quicALPN is the bridge's own ALPN identifier; GDB's "target extended-remote"
// never negotiates ALPN itself, so this only matters for TLS's handshake
// bookkeeping.
const quicALPN = "avrbridge-rsp"

// ListenQUIC opens an optional QUIC transport for the debugger session as
// an alternative to plain TCP, self-signing a TLS certificate since the
// bridge has no external PKI dependency (spec §7's "optional QUIC
// debugger transport" is a local-link convenience, not an
// internet-facing service).
func ListenQUIC(addr string) (*quic.Listener, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("bridge: quic tls config: %w", err)
	}

	qConf := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ln, err := quic.ListenAddr(addr, tlsConf, qConf)
	if err != nil {
		return nil, fmt.Errorf("bridge: quic listen %s: %w", addr, err)
	}

	return ln, nil
}

// AcceptQUICSession accepts one QUIC connection and its single debugger
// stream, wrapping it as a net.Conn so it can be driven by the same
// serveConn as the TCP path.
func AcceptQUICSession(ctx context.Context, ln *quic.Listener) (net.Conn, error) {
	conn, err := ln.Accept(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}

	return &quicStreamConn{stream: stream, conn: conn}, nil
}

// quicStreamConn adapts a quic.Stream plus its parent quic.Connection into
// a net.Conn, since the RSP framer and dispatcher only need the net.Conn
// surface.
type quicStreamConn struct {
	stream *quic.Stream
	conn   *quic.Conn
}

func (c *quicStreamConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicStreamConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c *quicStreamConn) Close() error {
	c.stream.CancelWrite(0)
	return c.conn.CloseWithError(0, "session closed")
}
func (c *quicStreamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicStreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *quicStreamConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}
func (c *quicStreamConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}
func (c *quicStreamConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for
// the local QUIC listener; the debugger's loopback/LAN link is trusted by
// physical access, not by certificate authority.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "avrbridge"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}, nil
}
