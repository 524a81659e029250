/*
Package sign wraps the two signature schemes used by the nodes: ED25519 for
authenticating messages and threshold BLS (t-of-n over bn256) for the common coin
that orders leaders.
*/
package sign

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

var suite = bn256.NewSuite()

// GenED25519Keys generates a private/public key pair.
func GenED25519Keys() (ed25519.PrivateKey, ed25519.PublicKey) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return priv, pub
}

func SignEd25519(privateKey ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(privateKey, data)
}

func VerifySignEd25519(publicKey ed25519.PublicKey, data, sig []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, errors.Errorf("public key has %d bytes", len(publicKey))
	}
	return ed25519.Verify(publicKey, data, sig), nil
}

// GenTSKeys generates n key shares of which any t can produce a signature.
func GenTSKeys(t, n int) ([]*share.PriShare, *share.PubPoly) {
	secret := suite.G2().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), t, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	return priPoly.Shares(n), pubPoly
}

// SignTSPartial signs data with a key share.
func SignTSPartial(privateKey *share.PriShare, data []byte) []byte {
	sig, err := tbls.Sign(suite, privateKey, data)
	if err != nil {
		panic(err)
	}
	return sig
}

// VerifyTSPartial checks a partial signature against the public polynomial.
func VerifyTSPartial(publicKey *share.PubPoly, data, partialSig []byte) error {
	return tbls.Verify(suite, publicKey, data, partialSig)
}

// AssembleIntactTSPartial recovers the threshold signature from at least t partial
// signatures.
func AssembleIntactTSPartial(partialSigs [][]byte, publicKey *share.PubPoly, data []byte, t, n int) ([]byte, error) {
	sig, err := tbls.Recover(suite, publicKey, data, partialSigs, t, n)
	if err != nil {
		return nil, errors.Wrap(err, "recover threshold signature")
	}
	return sig, nil
}

// VerifyTS checks a recovered threshold signature.
func VerifyTS(publicKey *share.PubPoly, data, sig []byte) error {
	return bls.Verify(suite, publicKey.Commit(), data, sig)
}

// EncodeTSPartialKey encodes a key share as its 4-byte index followed by the scalar.
func EncodeTSPartialKey(privateKey *share.PriShare) ([]byte, error) {
	v, err := privateKey.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(v))
	binary.BigEndian.PutUint32(out, uint32(privateKey.I))
	return append(out, v...), nil
}

func DecodeTSPartialKey(data []byte) (*share.PriShare, error) {
	if len(data) <= 4 {
		return nil, errors.New("key share is too short")
	}
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(data[4:]); err != nil {
		return nil, errors.Wrap(err, "decode key share")
	}
	return &share.PriShare{I: int(binary.BigEndian.Uint32(data[:4])), V: v}, nil
}

// EncodeTSPublicKey encodes the base point followed by the commitments.
func EncodeTSPublicKey(publicKey *share.PubPoly) ([]byte, error) {
	base, commits := publicKey.Info()
	var out []byte
	for _, p := range append([]kyber.Point{base}, commits...) {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func DecodeTSPublicKey(data []byte) (*share.PubPoly, error) {
	size := suite.G2().PointLen()
	if len(data) < 2*size || len(data)%size != 0 {
		return nil, errors.Errorf("public key has %d bytes", len(data))
	}
	points := make([]kyber.Point, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(data[i : i+size]); err != nil {
			return nil, errors.Wrap(err, "decode public key")
		}
		points = append(points, p)
	}
	return share.NewPubPoly(suite.G2(), points[0], points[1:]), nil
}
