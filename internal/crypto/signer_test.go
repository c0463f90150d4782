package crypto

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// Hardhat's first development account.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testSettlement = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fixedChain struct {
	id    *big.Int
	err   error
	calls int
}

func (f *fixedChain) ChainID(context.Context) (*big.Int, error) {
	f.calls++
	return f.id, f.err
}

func testVoucher() Voucher {
	return Voucher{
		Sender:   common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Amount:   big.NewInt(1_000_000_000_000_000_000),
		TokenID:  big.NewInt(42),
		Deadline: big.NewInt(1_760_000_300),
	}
}

func TestVoucherSigner_DeterministicAndRecoverable(t *testing.T) {
	chain := &fixedChain{id: big.NewInt(31337)}
	signer, err := NewVoucherSigner("0x"+testKeyHex, testSettlement, chain)
	require.NoError(t, err)

	v := testVoucher()
	sig1, err := signer.Sign(context.Background(), v)
	require.NoError(t, err)
	sig2, err := signer.Sign(context.Background(), v)
	require.NoError(t, err)

	require.Len(t, sig1, SignatureLength)
	require.Equal(t, sig1, sig2)
	require.Contains(t, []byte{27, 28}, sig1[64])
	require.Equal(t, 2, chain.calls, "chain id must be read on every sign")

	recovered, err := RecoverVoucherSigner(v, chain.id, testSettlement, sig1)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)
}

func TestVoucherSigner_ChainIDChangesSignature(t *testing.T) {
	chain := &fixedChain{id: big.NewInt(1)}
	signer, err := NewVoucherSigner(testKeyHex, testSettlement, chain)
	require.NoError(t, err)

	v := testVoucher()
	onMainnet, err := signer.Sign(context.Background(), v)
	require.NoError(t, err)

	chain.id = big.NewInt(137)
	onPolygon, err := signer.Sign(context.Background(), v)
	require.NoError(t, err)
	require.NotEqual(t, onMainnet, onPolygon)
}

func TestVoucherSigner_ChainIDFailure(t *testing.T) {
	signer, err := NewVoucherSigner(testKeyHex, testSettlement, &fixedChain{err: errors.New("dial tcp: refused")})
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), testVoucher())
	require.ErrorIs(t, err, domain.ErrSignatureFailure)
}

func TestVoucherSigner_RejectsOutOfRangeAmount(t *testing.T) {
	signer, err := NewVoucherSigner(testKeyHex, testSettlement, &fixedChain{id: big.NewInt(1)})
	require.NoError(t, err)

	v := testVoucher()
	v.Amount = big.NewInt(-1)
	_, err = signer.Sign(context.Background(), v)
	require.ErrorIs(t, err, domain.ErrSignatureFailure)

	v.Amount = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = signer.Sign(context.Background(), v)
	require.ErrorIs(t, err, domain.ErrSignatureFailure)
}

func TestVoucherSigner_RedactsKey(t *testing.T) {
	signer, err := NewVoucherSigner(testKeyHex, testSettlement, &fixedChain{id: big.NewInt(1)})
	require.NoError(t, err)

	require.NotContains(t, signer.String(), testKeyHex)
	require.NotContains(t, fmt.Sprintf("%v", signer), testKeyHex)
	require.NotContains(t, signer.LogValue().String(), testKeyHex)
}

func TestVoucherDigest_MatchesTypedDataEncoder(t *testing.T) {
	v := testVoucher()
	chainID := big.NewInt(11155111)

	got, err := VoucherDigest(v, chainID, testSettlement)
	require.NoError(t, err)

	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"sellNft": {
				{Name: "sender", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "sellNft",
		Domain: apitypes.TypedDataDomain{
			Name:              "Desi-NFT",
			Version:           "0.0.1",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: testSettlement.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sender":   v.Sender.Hex(),
			"amount":   v.Amount.String(),
			"tokenId":  v.TokenID.String(),
			"deadline": v.Deadline.String(),
		},
	}
	want, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSplitSignature(t *testing.T) {
	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	sig, err := signDigest(ethcrypto.Keccak256([]byte("voucher")), pk)
	require.NoError(t, err)

	r, s, v, err := SplitSignature(sig)
	require.NoError(t, err)
	require.Equal(t, sig[:32], r[:])
	require.Equal(t, sig[32:64], s[:])
	require.Equal(t, sig[64], v)
	require.Equal(t, sig, JoinSignature(r, s, v))

	_, _, _, err = SplitSignature(sig[:64])
	require.Error(t, err)
}
