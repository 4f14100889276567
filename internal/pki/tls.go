// Package pki fornece a configuração TLS do listener do stashd-server.
// A autenticação de clientes é feita no protocolo (usuário/senha, spec.md
// §6.2), não via certificado de cliente — então apenas o lado do servidor
// da PKI sobrevive aqui.
package pki

import (
	"crypto/tls"
	"fmt"
)

// NewServerTLSConfig cria uma configuração TLS 1.3 para o server a partir
// do par certificado/chave apontado por cfg.Certificate/cfg.Key.
func NewServerTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}, nil
}
