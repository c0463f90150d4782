package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// Domain and primary type the settlement contract verifies vouchers against.
const (
	VoucherDomainName    = "Desi-NFT"
	VoucherDomainVersion = "0.0.1"
	VoucherPrimaryType   = "sellNft"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// sellNft(address sender,uint256 amount,uint256 tokenId,uint256 deadline)
	voucherTypeHash = ethcrypto.Keccak256(
		[]byte(VoucherPrimaryType + "(address sender,uint256 amount,uint256 tokenId,uint256 deadline)"),
	)
)

// Voucher authorises Sender to settle tokenId for amount before deadline.
// Field order matches the contract's struct definition.
type Voucher struct {
	Sender   common.Address
	Amount   *big.Int
	TokenID  *big.Int
	Deadline *big.Int
}

// ChainIDReader reports the chain id of the connected network.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// VoucherSigner produces EIP-712 signatures over sale vouchers. The private
// key never leaves this struct; String and LogValue are redacted.
type VoucherSigner struct {
	privateKey        *ecdsa.PrivateKey
	address           common.Address
	verifyingContract common.Address
	chain             ChainIDReader
}

// NewVoucherSigner creates a VoucherSigner from a hex-encoded secp256k1
// private key. verifyingContract is the settlement contract address that the
// voucher domain is bound to.
func NewVoucherSigner(privateKeyHex string, verifyingContract common.Address, chain ChainIDReader) (*VoucherSigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if chain == nil {
		return nil, fmt.Errorf("crypto/signer: chain id reader is required")
	}

	return &VoucherSigner{
		privateKey:        pk,
		address:           ethcrypto.PubkeyToAddress(pk.PublicKey),
		verifyingContract: verifyingContract,
		chain:             chain,
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *VoucherSigner) Address() common.Address {
	return s.address
}

// Sign returns the 65-byte r || s || v signature of v. The chain id is read
// from the network on every call so a stale id is never embedded.
func (s *VoucherSigner) Sign(ctx context.Context, v Voucher) ([]byte, error) {
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: fetch chain id: %v", domain.ErrSignatureFailure, err)
	}

	digest, err := VoucherDigest(v, chainID, s.verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSignatureFailure, err)
	}
	return signDigest(digest, s.privateKey)
}

// String implements fmt.Stringer without exposing key material.
func (s *VoucherSigner) String() string {
	return fmt.Sprintf("VoucherSigner{address=%s, key=****}", s.address.Hex())
}

// LogValue implements slog.LogValuer.
func (s *VoucherSigner) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", s.address.Hex()),
		slog.String("verifying_contract", s.verifyingContract.Hex()),
	)
}

// VoucherDigest computes the EIP-712 digest of v under the voucher domain.
func VoucherDigest(v Voucher, chainID *big.Int, verifyingContract common.Address) ([]byte, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %v", chainID)
	}
	structHash, err := voucherStructHash(v)
	if err != nil {
		return nil, err
	}
	domainSep, err := domainSeparator(VoucherDomainName, VoucherDomainVersion, chainID, verifyingContract)
	if err != nil {
		return nil, err
	}
	return eip712Hash(domainSep, structHash), nil
}

// RecoverVoucherSigner returns the address that produced sig over v.
func RecoverVoucherSigner(v Voucher, chainID *big.Int, verifyingContract common.Address, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	digest, err := VoucherDigest(v, chainID, verifyingContract)
	if err != nil {
		return common.Address{}, err
	}
	normalised := make([]byte, SignatureLength)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func domainSeparator(name, version string, chainID *big.Int, verifyingContract common.Address) ([]byte, error) {
	chainWord, err := uint256Word(chainID)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: chainId: %w", err)
	}
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			chainWord,
			common.LeftPadBytes(verifyingContract.Bytes(), 32),
		),
	), nil
}

// voucherStructHash encodes and hashes a Voucher according to EIP-712.
func voucherStructHash(v Voucher) ([]byte, error) {
	amount, err := uint256Word(v.Amount)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: amount: %w", err)
	}
	tokenID, err := uint256Word(v.TokenID)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: tokenId: %w", err)
	}
	deadline, err := uint256Word(v.Deadline)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: deadline: %w", err)
	}

	return ethcrypto.Keccak256(
		concatBytes(
			voucherTypeHash,
			common.LeftPadBytes(v.Sender.Bytes(), 32),
			amount,
			tokenID,
			deadline,
		),
	), nil
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the raw
// signature (r || s || v, 65 bytes).
func signDigest(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSignatureFailure, err)
	}

	// go-ethereum returns v in {0,1}; the contract's ecrecover expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// uint256Word returns the 32-byte big-endian ABI word for n, rejecting values
// that do not fit a uint256.
func uint256Word(n *big.Int) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("value is required")
	}
	if n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("value %s out of uint256 range", n)
	}
	return common.LeftPadBytes(n.Bytes(), 32), nil
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
