// Package attestation mints X.509 v3 certificates that attest a key object
// was generated (not imported) inside the emulator, carrying the object's
// metadata in custom extensions under a private OID arc.
//
// Grounded on the Rust original's attestation.rs and its AttestationProfile
// builder in mockhsm/command.rs, which assembles the same subject and
// extension set from a device and a target object.
package attestation

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/yubihsm/mockhsm/object"
)

// oidArc is a private enterprise arc used to namespace the attestation
// extensions; the exact numbers have no external registration, matching
// the original's use of a private OID tree for the same purpose.
var oidArc = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41482, 3}

func oid(n int) asn1.ObjectIdentifier {
	return append(append(asn1.ObjectIdentifier{}, oidArc...), n)
}

var (
	oidFirmwareVersion = oid(1)
	oidSerial          = oid(2)
	oidOrigin          = oid(3)
	oidDomain          = oid(4)
	oidCapabilities    = oid(5)
	oidObjectID        = oid(6)
	oidLabel           = oid(7)
)

// DeviceInfo carries the canned device identity the attestation cert
// reports; the emulator has no real firmware or serial number, so these
// are fixed values (see the DeviceInfo handler for the same constants).
type DeviceInfo struct {
	FirmwareMajor, FirmwareMinor, FirmwarePatch byte
	Serial                                      uint32
}

// Sign builds and signs an attestation certificate for target, using
// attestKey as both the issuer's signing key and (per the real device's
// convention) the certificate's own subject key.
func Sign(device DeviceInfo, attestKey *object.Object, target *object.Object) ([]byte, error) {
	signer, pub, err := signerFor(attestKey)
	if err != nil {
		return nil, err
	}

	extensions, err := buildExtensions(device, target)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: fmt.Sprintf("YubiHSM Attestation id:0x%04x", target.Info.ID),
		},
		NotBefore:       time.Now(),
		NotAfter:        time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC), // X.509 "no expiry"
		ExtraExtensions: extensions,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, signer)
	if err != nil {
		return nil, err
	}
	return der, nil
}

func signerFor(attestKey *object.Object) (crypto.Signer, crypto.PublicKey, error) {
	switch {
	case attestKey.Info.Algorithm.IsRSA():
		k := attestKey.Payload.RSAKey
		return k, &k.PublicKey, nil
	case attestKey.Info.Algorithm.IsEC() && attestKey.Payload.ECKey != nil:
		k := attestKey.Payload.ECKey
		return k, &k.PublicKey, nil
	case attestKey.Payload.Ed25519Key != nil:
		k := attestKey.Payload.Ed25519Key
		return k, k.Public().(ed25519.PublicKey), nil
	default:
		return nil, nil, errors.New("attestation: key cannot sign a certificate")
	}
}

func buildExtensions(device DeviceInfo, target *object.Object) ([]pkix.Extension, error) {
	var exts []pkix.Extension

	add := func(id asn1.ObjectIdentifier, value interface{}) error {
		der, err := asn1.Marshal(value)
		if err != nil {
			return err
		}
		exts = append(exts, pkix.Extension{Id: id, Value: der})
		return nil
	}

	if err := add(oidFirmwareVersion, []byte{device.FirmwareMajor, device.FirmwareMinor, device.FirmwarePatch}); err != nil {
		return nil, err
	}
	if err := add(oidSerial, int(device.Serial)); err != nil {
		return nil, err
	}
	if err := add(oidOrigin, int(target.Info.Origin)); err != nil {
		return nil, err
	}
	if err := add(oidDomain, int(target.Info.Domains)); err != nil {
		return nil, err
	}
	if err := add(oidCapabilities, int64(target.Info.Capabilities)); err != nil {
		return nil, err
	}
	if err := add(oidObjectID, int(target.Info.ID)); err != nil {
		return nil, err
	}
	if err := add(oidLabel, target.Info.Label[:]); err != nil {
		return nil, err
	}

	return exts, nil
}
