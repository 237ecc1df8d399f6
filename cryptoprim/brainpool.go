package cryptoprim

import (
	"crypto/elliptic"
	"math/big"
	"sync"
)

// Brainpool P256r1/P384r1/P512r1 curve parameters (RFC 5639), hand-rolled
// via elliptic.CurveParams. No package in this codebase's reference
// material implements Brainpool (the pack's only third-party curve outside
// stdlib is secp256k1, via decred/dcrd), so these are constructed directly
// from the RFC's published domain parameters rather than imported.
//
// elliptic.CurveParams only implements the generic (slow, non-constant-time)
// field arithmetic path; that's an accepted tradeoff here since the
// emulator's explicit non-goals already exclude side-channel resistance.

var (
	bp256Once sync.Once
	bp256     *elliptic.CurveParams

	bp384Once sync.Once
	bp384     *elliptic.CurveParams

	bp512Once sync.Once
	bp512     *elliptic.CurveParams
)

func hexBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("cryptoprim: invalid brainpool constant")
	}
	return n
}

func brainpoolP256r1() elliptic.Curve {
	bp256Once.Do(func() {
		bp256 = &elliptic.CurveParams{Name: "brainpoolP256r1"}
		bp256.P = hexBig("A9FB57DBA1EEA9BC3E660A909D838D726E3BF623D52620282013481D1F6E5377")
		bp256.N = hexBig("A9FB57DBA1EEA9BC3E660A909D838D718C397AA3B561A6F7901E0E82974856A7")
		bp256.B = hexBig("26DC5C6CE94A4B44F330B5D9BBD77CBF958416295CF7E1CE6BCCDC18FF8C07B6")
		bp256.Gx = hexBig("8BD2AEB9CB7E57CB2C4B482FFC81B7AFB9DE27E1E3BD23C23A4453BD9ACE3262")
		bp256.Gy = hexBig("547EF835C3DAC4FD97F8461A14611DC9C27745132DED8E545C1D54C72F046997")
		bp256.BitSize = 256
	})
	return bp256
}

func brainpoolP384r1() elliptic.Curve {
	bp384Once.Do(func() {
		bp384 = &elliptic.CurveParams{Name: "brainpoolP384r1"}
		bp384.P = hexBig("8CB91E82A3386D280F5D6F7E50E641DF152F7109ED5456B412B1DA197FB71123ACD3A729901D1A71874700133107EC53")
		bp384.N = hexBig("8CB91E82A3386D280F5D6F7E50E641DF152F7109ED5456B31F166E6CAC0425A7CF3AB6AF6B7FC3103B883202E9046565")
		bp384.B = hexBig("04A8C7DD22CE28268B39B55416F0447C2FB77DE107DCD2A62E880EA53EEB62D57CB4390295DBC9943AB78696FA504C11")
		bp384.Gx = hexBig("1D1C64F068CF45FFA2A63A81B7C13F6B8847A3E77EF14FE3DB7FCAFE0CBD10E8E826E03436D646AAEF87B2E247D4AF1E")
		bp384.Gy = hexBig("8ABE1D7520F9C2A45CB1EB8E95CFD55262B70B29FEEC5864E19C054FF99129280E4646217791811142820341263C5315")
		bp384.BitSize = 384
	})
	return bp384
}

func brainpoolP512r1() elliptic.Curve {
	bp512Once.Do(func() {
		bp512 = &elliptic.CurveParams{Name: "brainpoolP512r1"}
		bp512.P = hexBig("AADD9DB8DBE9C48B3FD4E6AE33C9FC07CB308DB3B3C9D20ED6639CCA703308717D4D9B009BC66842AECDA12AE6A380E62881FF2F2D82C68528AA6056583A48F3")
		bp512.N = hexBig("AADD9DB8DBE9C48B3FD4E6AE33C9FC07CB308DB3B3C9D20ED6639CCA70330870553E5C414CA92619418661197FAC10471DB1D381085DDADDB58796829CA90069")
		bp512.B = hexBig("3DF91610A83441CAEA9863BC2DED5D5AA8253AA10A2EF1C98B9AC8B57F1117A72BF2C7B9E7C1AC4D77FC94CADC083E67984050B75EBAE5DD2809BD638016F723")
		bp512.Gx = hexBig("81AEE4BDD82ED9645A21322E9C4C6A9385ED9F70B5D916C1B43B62EEF4D0098EFF3B1F78E2D0D48D50D1687B93B97D5F7C6D5047406A5E688B352209BCB9F822")
		bp512.Gy = hexBig("7DDE385D566332ECC0EABFA9CF7822FDF209F70024A57B1AA000C55B881F8111B2DCDE494A5F485E5BCA4BD88A2763AED1CA2B2FA8F0540678CD1E0F3AD80892")
		bp512.BitSize = 512
	})
	return bp512
}
