// Package chain holds the settlement transfer backends. The paper transferer
// performs no network I/O: it derives a deterministic transaction hash from
// the sale and optionally attests it with an operator-signed receipt.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/executor"
)

// ParseAddress validates and checksums a hex account address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// PaperTransferer settles sales without touching a chain.
type PaperTransferer struct {
	signer *ReceiptSigner
	logger *slog.Logger

	mu       sync.Mutex
	receipts map[string]Receipt
}

var _ executor.Transferer = (*PaperTransferer)(nil)

// NewPaperTransferer creates a PaperTransferer. signer may be nil.
func NewPaperTransferer(signer *ReceiptSigner, logger *slog.Logger) *PaperTransferer {
	return &PaperTransferer{
		signer:   signer,
		logger:   logger.With(slog.String("component", "paper_transferer")),
		receipts: make(map[string]Receipt),
	}
}

// Transfer returns the transaction hash for the sale. Invalid addresses are
// permanent failures.
func (p *PaperTransferer) Transfer(ctx context.Context, sale domain.Sale) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	seller, err := ParseAddress(sale.Seller)
	if err != nil {
		return "", &executor.PermanentError{Err: err}
	}
	buyer, err := ParseAddress(sale.Buyer)
	if err != nil {
		return "", &executor.PermanentError{Err: err}
	}

	hash := TxHash(sale, seller, buyer)

	if p.signer != nil {
		r, err := p.signer.Sign(sale)
		if err != nil {
			return "", &executor.PermanentError{Err: err}
		}
		p.mu.Lock()
		p.receipts[sale.ID] = r
		p.mu.Unlock()
	}

	p.logger.DebugContext(ctx, "paper transfer",
		slog.String("sale_id", sale.ID),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash.Hex(), nil
}

// Receipt returns the signed receipt for a settled sale.
func (p *PaperTransferer) Receipt(saleID string) (Receipt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.receipts[saleID]
	return r, ok
}

// TxHash is keccak256 over the sale id, both parties, the asset and the
// fee split.
func TxHash(sale domain.Sale, seller, buyer common.Address) common.Hash {
	return ethcrypto.Keccak256Hash(
		[]byte(sale.ID),
		seller.Bytes(),
		buyer.Bytes(),
		[]byte(strings.ToLower(sale.Asset.Key())),
		uint256(int64(sale.SalePrice)),
		uint256(int64(sale.PlatformFee)),
		uint256(int64(sale.RoyaltyFee)),
		uint256(int64(sale.SellerProceeds)),
		[]byte(sale.Currency),
	)
}
