package cryptoprim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"

	decredecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yubihsm/mockhsm/algorithm"
)

// ErrUnsupportedCurve is returned for EC algorithms with no curve backing.
var ErrUnsupportedCurve = errors.New("cryptoprim: unsupported EC algorithm")

// CurveForAlgorithm returns the elliptic.Curve for every EC algorithm
// except K256, which the stdlib elliptic package doesn't implement and
// which is instead handled through the secp256k1 package directly.
func CurveForAlgorithm(alg algorithm.Algorithm) (elliptic.Curve, bool) {
	switch alg {
	case algorithm.ECP224:
		return elliptic.P224(), true
	case algorithm.ECP256:
		return elliptic.P256(), true
	case algorithm.ECP384:
		return elliptic.P384(), true
	case algorithm.ECP521:
		return elliptic.P521(), true
	case algorithm.ECBP256:
		return brainpoolP256r1(), true
	case algorithm.ECBP384:
		return brainpoolP384r1(), true
	case algorithm.ECBP512:
		return brainpoolP512r1(), true
	default:
		return nil, false
	}
}

// GenerateEC generates a new EC private key for alg, returning it as a
// *ecdsa.PrivateKey for every curve except K256 (generated by K256GenerateKey).
func GenerateEC(alg algorithm.Algorithm) (*ecdsa.PrivateKey, error) {
	curve, ok := CurveForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedCurve
	}
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// SignECDSA signs a pre-hashed digest with an ecdsa.PrivateKey, returning
// an ASN.1 DER signature, matching the wire format of SignEcdsaResponse.
func SignECDSA(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, key, digest)
}

// VerifyECDSA verifies an ASN.1 DER ECDSA signature.
func VerifyECDSA(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	return ecdsa.VerifyASN1(pub, digest, sig)
}

// DeriveECDH performs ECDH scalar multiplication, returning the shared
// point's X coordinate as a fixed-width big-endian scalar (the size of the
// curve's field), matching the raw format DeriveEcdhResponse carries.
func DeriveECDH(priv *ecdsa.PrivateKey, peerX, peerY *big.Int) ([]byte, error) {
	curve := priv.Curve
	if !curve.IsOnCurve(peerX, peerY) {
		return nil, errors.New("cryptoprim: peer point is not on curve")
	}
	x, _ := curve.ScalarMult(peerX, peerY, priv.D.Bytes())
	byteLen := (curve.Params().BitSize + 7) / 8
	out := make([]byte, byteLen)
	x.FillBytes(out)
	return out, nil
}

// K256GenerateKey generates a secp256k1 (YubiHSM2's ECK256) private key via
// decred/dcrd, which is what every secp256k1 consumer in this codebase's
// reference pack uses instead of a stdlib elliptic.Curve (Go's standard
// library has no K256 implementation).
func K256GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// K256Sign produces an ASN.1 DER ECDSA signature over a pre-hashed digest
// using secp256k1, matching the Rust original's k256::ecdsa::SigningKey
// usage in sign_ecdsa.
func K256Sign(key *secp256k1.PrivateKey, digest []byte) ([]byte, error) {
	sig := decredecdsa.Sign(key, digest)
	return sig.Serialize(), nil
}

// K256Verify verifies an ASN.1 DER secp256k1 ECDSA signature.
func K256Verify(pub *secp256k1.PublicKey, digest, sig []byte) bool {
	s, err := decredecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest, pub)
}
