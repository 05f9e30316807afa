package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Settlement(bytes32 saleId,address seller,address buyer,uint256 price,uint256 platformFee,uint256 royaltyFee,uint256 proceeds)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(bytes32 saleId,address seller,address buyer,uint256 price,uint256 platformFee,uint256 royaltyFee,uint256 proceeds)"),
	)
)

// Receipt is an operator-signed EIP-712 attestation of a sale's fee split.
type Receipt struct {
	Digest    common.Hash
	Signature string
	Operator  common.Address
}

// ReceiptSigner signs settlement receipts with the operator key.
type ReceiptSigner struct {
	key       *ecdsa.PrivateKey
	operator  common.Address
	domainSep []byte
}

// NewReceiptSigner builds a signer for the given chain id.
func NewReceiptSigner(key *ecdsa.PrivateKey, chainID int64) *ReceiptSigner {
	return &ReceiptSigner{
		key:       key,
		operator:  ethcrypto.PubkeyToAddress(key.PublicKey),
		domainSep: domainSeparator("AssetMarket", "1", chainID),
	}
}

// Operator returns the signing address.
func (s *ReceiptSigner) Operator() common.Address { return s.operator }

// Sign produces a receipt for the sale.
func (s *ReceiptSigner) Sign(sale domain.Sale) (Receipt, error) {
	digest, err := s.Digest(sale)
	if err != nil {
		return Receipt{}, err
	}
	sig, err := ethcrypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: sign receipt %s: %w", sale.ID, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return Receipt{Digest: digest, Signature: "0x" + hex.EncodeToString(sig), Operator: s.operator}, nil
}

// Digest returns the EIP-712 digest of the sale's settlement struct.
func (s *ReceiptSigner) Digest(sale domain.Sale) (common.Hash, error) {
	seller, err := ParseAddress(sale.Seller)
	if err != nil {
		return common.Hash{}, err
	}
	buyer, err := ParseAddress(sale.Buyer)
	if err != nil {
		return common.Hash{}, err
	}
	structHash := ethcrypto.Keccak256(
		ethcrypto.Keccak256([]byte(sale.ID)),
		settlementTypeHash,
		common.LeftPadBytes(seller.Bytes(), 32),
		common.LeftPadBytes(buyer.Bytes(), 32),
		uint256(int64(sale.SalePrice)),
		uint256(int64(sale.PlatformFee)),
		uint256(int64(sale.RoyaltyFee)),
		uint256(int64(sale.SellerProceeds)),
	)
	return common.BytesToHash(ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash)), nil
}

// RecoverOperator returns the address that signed the receipt.
func RecoverOperator(r Receipt) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(r.Signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: recover: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("chain: recover: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(r.Digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256(chainID),
	)
}

func uint256(n int64) []byte {
	return common.LeftPadBytes(big.NewInt(n).Bytes(), 32)
}
