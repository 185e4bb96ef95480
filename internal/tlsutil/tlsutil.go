package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// 仅 AEAD 套件；TLS 1.3 的套件不可配置，始终启用
var aeadCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

func hardened() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: append([]uint16(nil), aeadCipherSuites...),
	}
}

// ServerTLSConfig API 端口的 TLS 配置，证书由 ServeTLS 加载
func ServerTLSConfig() *tls.Config {
	cfg := hardened()
	cfg.CurvePreferences = []tls.CurveID{tls.X25519, tls.CurveP256}
	return cfg
}

// ClientFiles 出站连接（Agent 服务、Redis）的证书文件
//
// CAFile 追加到系统根证书之上；CertFile 与 KeyFile 同时设置时启用双向 TLS。
type ClientFiles struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
}

// ClientTLSConfig 构建出站 TLS 配置，未指定任何文件时返回系统根证书的加固配置
func ClientTLSConfig(files ClientFiles) (*tls.Config, error) {
	cfg := hardened()
	cfg.ServerName = files.ServerName

	if files.CAFile != "" {
		pem, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s contains no PEM certificates", files.CAFile)
		}
		cfg.RootCAs = pool
	}

	switch {
	case files.CertFile != "" && files.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case files.CertFile != "" || files.KeyFile != "":
		return nil, errors.New("client certificate and key must be set together")
	}
	return cfg, nil
}

// AgentTransport 调用 Agent 服务的连接池；所有调用指向同一主机，
// maxPerHost 同时限制空闲与活跃连接，<=0 时为 32
func AgentTransport(tlsCfg *tls.Config, maxPerHost int) *http.Transport {
	if tlsCfg == nil {
		tlsCfg = hardened()
	}
	if maxPerHost <= 0 {
		maxPerHost = 32
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   maxPerHost,
		MaxConnsPerHost:       maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
}
