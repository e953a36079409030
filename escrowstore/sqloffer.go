package escrowstore

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/chainweave/escrow-go/escrow"
)

// sqlOffer mirrors the offer table row for scanning.
type sqlOffer struct {
	OfferID string
	Status  string

	SellerChain    string
	SellerAddress  string
	SellerAmount   string
	SellerCurrency string
	SellerUserID   sql.NullString
	SellerPayout   sql.NullString

	BuyerChain    sql.NullString
	BuyerAddress  sql.NullString
	BuyerAmount   sql.NullString
	BuyerCurrency sql.NullString
	BuyerUserID   sql.NullString
	BuyerPayout   sql.NullString

	SellerEscrowTx        sql.NullString
	BuyerEscrowTx         sql.NullString
	SellerContractAddress sql.NullString
	BuyerContractAddress  sql.NullString
	SellerEscrowOpaque    sql.NullString
	BuyerEscrowOpaque     sql.NullString
	SellerReleaseTx       sql.NullString
	BuyerReleaseTx        sql.NullString
	SellerLockConfirmed   bool
	BuyerLockConfirmed    bool

	CreatedAt      int64
	ExpiresAt      int64
	SellerLockedAt sql.NullInt64
	BuyerLockedAt  sql.NullInt64
	CompletedAt    sql.NullInt64

	AdminFeePercentage float64
	AdminFeeAmount     string
	AdminFeeCollected  bool
	AdminFeeTxHash     sql.NullString

	DisputeReason      sql.NullString
	DisputeInitiatedBy sql.NullString
	DisputeResolvedBy  sql.NullString
	DisputeResolution  sql.NullString

	IsPublic bool
}

func encode(offer *escrow.Offer) (*sqlOffer, error) {
	if offer.Seller == nil || offer.Seller.Amount == nil {
		return nil, fmt.Errorf("offer %s has no seller leg", offer.ID)
	}
	if offer.AdminFeeAmount == nil {
		return nil, fmt.Errorf("offer %s has no admin fee amount", offer.ID)
	}

	r := &sqlOffer{
		OfferID:             offer.ID,
		Status:              string(offer.Status),
		SellerChain:         string(offer.Seller.Chain),
		SellerAddress:       offer.Seller.Address,
		SellerAmount:        offer.Seller.Amount.String(),
		SellerCurrency:      offer.Seller.Currency,
		SellerUserID:        nullStr(offer.Seller.UserID),
		SellerPayout:        nullStr(offer.Seller.Payout),
		SellerEscrowTx:      nullStr(offer.SellerEscrowTx),
		BuyerEscrowTx:       nullStr(offer.BuyerEscrowTx),
		SellerReleaseTx:     nullStr(offer.SellerReleaseTx),
		BuyerReleaseTx:      nullStr(offer.BuyerReleaseTx),
		SellerLockConfirmed: offer.SellerLockConfirmed,
		BuyerLockConfirmed:  offer.BuyerLockConfirmed,
		CreatedAt:           offer.CreatedAt.Unix(),
		ExpiresAt:           offer.ExpiresAt.Unix(),
		SellerLockedAt:      nullTime(offer.SellerLockedAt),
		BuyerLockedAt:       nullTime(offer.BuyerLockedAt),
		CompletedAt:         nullTime(offer.CompletedAt),
		AdminFeePercentage:  offer.AdminFeePercentage,
		AdminFeeAmount:      offer.AdminFeeAmount.String(),
		AdminFeeCollected:   offer.AdminFeeCollected,
		AdminFeeTxHash:      nullStr(offer.AdminFeeTxHash),
		DisputeReason:       nullStr(offer.DisputeReason),
		DisputeInitiatedBy:  nullStr(offer.DisputeInitiatedBy),
		DisputeResolvedBy:   nullStr(offer.DisputeResolvedBy),
		DisputeResolution:   nullStr(offer.DisputeResolution),
		IsPublic:            offer.IsPublic,
	}
	r.SellerContractAddress = nullStr(offer.SellerContractAddress)
	r.BuyerContractAddress = nullStr(offer.BuyerContractAddress)
	r.SellerEscrowOpaque = nullStr(offer.SellerEscrowOpaque)
	r.BuyerEscrowOpaque = nullStr(offer.BuyerEscrowOpaque)

	if offer.Buyer != nil {
		if offer.Buyer.Amount == nil {
			return nil, fmt.Errorf("offer %s buyer leg has no amount", offer.ID)
		}
		r.BuyerChain = nullStr(string(offer.Buyer.Chain))
		r.BuyerAddress = nullStr(offer.Buyer.Address)
		r.BuyerAmount = nullStr(offer.Buyer.Amount.String())
		r.BuyerCurrency = nullStr(offer.Buyer.Currency)
		r.BuyerUserID = nullStr(offer.Buyer.UserID)
		r.BuyerPayout = nullStr(offer.Buyer.Payout)
	}

	return r, nil
}

func (r *sqlOffer) decode() (*escrow.Offer, error) {
	sellerAmount, ok := new(big.Int).SetString(r.SellerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("offer %s: bad seller amount %q", r.OfferID, r.SellerAmount)
	}
	feeAmount, ok := new(big.Int).SetString(r.AdminFeeAmount, 10)
	if !ok {
		return nil, fmt.Errorf("offer %s: bad admin fee amount %q", r.OfferID, r.AdminFeeAmount)
	}

	offer := &escrow.Offer{
		ID:     r.OfferID,
		Status: escrow.OfferStatus(r.Status),
		Seller: &escrow.Leg{
			Chain:    escrow.Chain(r.SellerChain),
			Address:  r.SellerAddress,
			Amount:   sellerAmount,
			Currency: r.SellerCurrency,
			UserID:   r.SellerUserID.String,
			Payout:   r.SellerPayout.String,
		},
		SellerEscrowTx:        r.SellerEscrowTx.String,
		BuyerEscrowTx:         r.BuyerEscrowTx.String,
		SellerContractAddress: r.SellerContractAddress.String,
		BuyerContractAddress:  r.BuyerContractAddress.String,
		SellerEscrowOpaque:    r.SellerEscrowOpaque.String,
		BuyerEscrowOpaque:     r.BuyerEscrowOpaque.String,
		SellerReleaseTx:       r.SellerReleaseTx.String,
		BuyerReleaseTx:        r.BuyerReleaseTx.String,
		SellerLockConfirmed:   r.SellerLockConfirmed,
		BuyerLockConfirmed:    r.BuyerLockConfirmed,
		CreatedAt:             time.Unix(r.CreatedAt, 0).UTC(),
		ExpiresAt:             time.Unix(r.ExpiresAt, 0).UTC(),
		SellerLockedAt:        fromNullTime(r.SellerLockedAt),
		BuyerLockedAt:         fromNullTime(r.BuyerLockedAt),
		CompletedAt:           fromNullTime(r.CompletedAt),
		AdminFeePercentage:    r.AdminFeePercentage,
		AdminFeeAmount:        feeAmount,
		AdminFeeCollected:     r.AdminFeeCollected,
		AdminFeeTxHash:        r.AdminFeeTxHash.String,
		DisputeReason:         r.DisputeReason.String,
		DisputeInitiatedBy:    r.DisputeInitiatedBy.String,
		DisputeResolvedBy:     r.DisputeResolvedBy.String,
		DisputeResolution:     r.DisputeResolution.String,
		IsPublic:              r.IsPublic,
	}

	if r.BuyerChain.Valid {
		buyerAmount, ok := new(big.Int).SetString(r.BuyerAmount.String, 10)
		if !ok {
			return nil, fmt.Errorf("offer %s: bad buyer amount %q", r.OfferID, r.BuyerAmount.String)
		}
		offer.Buyer = &escrow.Leg{
			Chain:    escrow.Chain(r.BuyerChain.String),
			Address:  r.BuyerAddress.String,
			Amount:   buyerAmount,
			Currency: r.BuyerCurrency.String,
			UserID:   r.BuyerUserID.String,
			Payout:   r.BuyerPayout.String,
		}
	}

	return offer, nil
}

// scan reads one row in offerColumns order.
func (r *sqlOffer) scan(row interface{ Scan(...interface{}) error }) error {
	return row.Scan(
		&r.OfferID, &r.Status,
		&r.SellerChain, &r.SellerAddress, &r.SellerAmount, &r.SellerCurrency, &r.SellerUserID, &r.SellerPayout,
		&r.BuyerChain, &r.BuyerAddress, &r.BuyerAmount, &r.BuyerCurrency, &r.BuyerUserID, &r.BuyerPayout,
		&r.SellerEscrowTx, &r.BuyerEscrowTx, &r.SellerContractAddress, &r.BuyerContractAddress,
		&r.SellerEscrowOpaque, &r.BuyerEscrowOpaque,
		&r.SellerReleaseTx, &r.BuyerReleaseTx, &r.SellerLockConfirmed, &r.BuyerLockConfirmed,
		&r.CreatedAt, &r.ExpiresAt, &r.SellerLockedAt, &r.BuyerLockedAt, &r.CompletedAt,
		&r.AdminFeePercentage, &r.AdminFeeAmount, &r.AdminFeeCollected, &r.AdminFeeTxHash,
		&r.DisputeReason, &r.DisputeInitiatedBy, &r.DisputeResolvedBy, &r.DisputeResolution,
		&r.IsPublic,
	)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
