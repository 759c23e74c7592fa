package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
)

func selfSigned(t *testing.T) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "kroma.network"},
		DNSNames:     []string{"kroma.network"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestReadCertificate(t *testing.T) {
	der := selfSigned(t)
	require.True(t, isDER(der))

	cert, got, err := readCertificate(der)
	require.NoError(t, err)
	require.Equal(t, der, got)
	require.Equal(t, "kroma.network", cert.Subject.CommonName)

	encoded := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.False(t, isDER(encoded))
	cert, got, err = readCertificate(encoded)
	require.NoError(t, err)
	require.Equal(t, der, got)
	require.Equal(t, []string{"kroma.network"}, cert.DNSNames)

	_, _, err = readCertificate(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	require.Error(t, err)
	_, _, err = readCertificate([]byte("not a certificate"))
	require.Error(t, err)
}

func TestParseBalance(t *testing.T) {
	balance, err := parseBalance("1000000000000000000")
	require.NoError(t, err)
	require.Equal(t, uint64(1e18), balance.Uint64())

	balance, err = parseBalance("0x10")
	require.NoError(t, err)
	require.Equal(t, uint64(16), balance.Uint64())

	_, err = parseBalance("ten")
	require.Error(t, err)
}

func TestIsHex(t *testing.T) {
	require.True(t, isHex("0x6000"))
	require.True(t, isHex("6000fe"))
	require.False(t, isHex("600"))
	require.False(t, isHex("\x60\x00"))
	require.False(t, isHex(""))
}

func TestChainName(t *testing.T) {
	require.Equal(t, "mainnet", chainName(1))
	require.Equal(t, "chain-777", chainName(777))
}

func TestCheckDomain(t *testing.T) {
	image := proof.ComputeImageID([]byte("cert guest"))
	require.True(t, checkDomain([]byte("kroma.network"), []byte("kroma.network"), image))
	require.False(t, checkDomain([]byte("kroma.network"), []byte("evil.network"), image))
	require.False(t, checkDomain([]byte("kroma.network"), nil, image))
}
