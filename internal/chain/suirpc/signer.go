package suirpc

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

const ed25519Flag = 0x00

// intent de TransactionData: scope 0, versão 0, app Sui 0
var txIntent = []byte{0, 0, 0}

// Ed25519Signer é a identidade do sponsor.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	addr string
}

// LoadEd25519Signer aceita base64 de uma seed de 32 bytes, da seed prefixada
// pela flag (33 bytes, formato do keystore do Sui) ou da chave completa (64).
// Chave ausente é ENV_MISSING.
func LoadEd25519Signer(encoded string) (*Ed25519Signer, error) {
	if encoded == "" {
		return nil, apperr.New(apperr.EnvMissing, "sponsor private key is not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.EnvMissing, err, "sponsor private key is not valid base64")
	}
	var priv ed25519.PrivateKey
	switch {
	case len(raw) == ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case len(raw) == ed25519.SeedSize+1 && raw[0] == ed25519Flag:
		priv = ed25519.NewKeyFromSeed(raw[1:])
	case len(raw) == ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, apperr.New(apperr.EnvMissing, "unsupported sponsor key length %d", len(raw))
	}
	return NewEd25519Signer(priv), nil
}

func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	sum := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return &Ed25519Signer{priv: priv, addr: "0x" + hex.EncodeToString(sum[:])}
}

func (s *Ed25519Signer) Address() string { return s.addr }

// SignTransaction assina blake2b(intent || txBytes) e devolve
// base64(flag || assinatura || chave pública).
func (s *Ed25519Signer) SignTransaction(txBytes []byte) (string, error) {
	if len(txBytes) == 0 {
		return "", fmt.Errorf("empty transaction bytes")
	}
	msg := make([]byte, 0, len(txIntent)+len(txBytes))
	msg = append(msg, txIntent...)
	msg = append(msg, txBytes...)
	digest := blake2b.Sum256(msg)

	sig := ed25519.Sign(s.priv, digest[:])
	pub := s.priv.Public().(ed25519.PublicKey)

	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, ed25519Flag)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out), nil
}
