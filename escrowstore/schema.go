package escrowstore

// Single table holding the whole life cycle of an escrow offer. Status is
// constrained to the state machine's vocabulary; amounts are decimal
// strings since chain base units overflow 64-bit integers.
var offerTable = `CREATE TABLE IF NOT EXISTS offer (
	offerId CHAR(36) PRIMARY KEY NOT NULL,
	status VARCHAR(16) NOT NULL,

	sellerChain VARCHAR(16) NOT NULL,
	sellerAddress VARCHAR(128) NOT NULL,
	sellerAmount VARCHAR(80) NOT NULL,
	sellerCurrency VARCHAR(16) NOT NULL,
	sellerUserId VARCHAR(64),
	sellerPayout VARCHAR(128),

	buyerChain VARCHAR(16),
	buyerAddress VARCHAR(128),
	buyerAmount VARCHAR(80),
	buyerCurrency VARCHAR(16),
	buyerUserId VARCHAR(64),
	buyerPayout VARCHAR(128),

	sellerEscrowTx VARCHAR(128),
	buyerEscrowTx VARCHAR(128),
	sellerContractAddress VARCHAR(128),
	buyerContractAddress VARCHAR(128),
	sellerEscrowOpaque TEXT,
	buyerEscrowOpaque TEXT,
	sellerReleaseTx VARCHAR(128),
	buyerReleaseTx VARCHAR(128),
	sellerLockConfirmed INTEGER NOT NULL DEFAULT 0,
	buyerLockConfirmed INTEGER NOT NULL DEFAULT 0,

	createdAt INTEGER NOT NULL,
	expiresAt INTEGER NOT NULL,
	sellerLockedAt INTEGER,
	buyerLockedAt INTEGER,
	completedAt INTEGER,

	adminFeePercentage REAL NOT NULL,
	adminFeeAmount VARCHAR(80) NOT NULL,
	adminFeeCollected INTEGER NOT NULL DEFAULT 0,
	adminFeeTxHash VARCHAR(128),

	disputeReason TEXT,
	disputeInitiatedBy VARCHAR(64),
	disputeResolvedBy VARCHAR(64),
	disputeResolution TEXT,

	isPublic INTEGER NOT NULL DEFAULT 0,

	CONSTRAINT chk_status CHECK (status IN (
		'created', 'seller_locked', 'buyer_locked', 'both_locked',
		'completed', 'cancelled', 'disputed', 'refunded')),
	CONSTRAINT chk_sellerChain CHECK (sellerChain IN (
		'bitcoin', 'xrpl', 'stellar', 'xdc', 'iota')),
	CONSTRAINT chk_expiresAt CHECK (expiresAt > 0)
);
CREATE INDEX IF NOT EXISTS idx_offer_status_expires ON offer (status, expiresAt);
CREATE INDEX IF NOT EXISTS idx_offer_public ON offer (isPublic, status);
`

// column list shared by every SELECT so row scanning stays in one place
var offerColumns = `offerId, status,
	sellerChain, sellerAddress, sellerAmount, sellerCurrency, sellerUserId, sellerPayout,
	buyerChain, buyerAddress, buyerAmount, buyerCurrency, buyerUserId, buyerPayout,
	sellerEscrowTx, buyerEscrowTx, sellerContractAddress, buyerContractAddress,
	sellerEscrowOpaque, buyerEscrowOpaque,
	sellerReleaseTx, buyerReleaseTx, sellerLockConfirmed, buyerLockConfirmed,
	createdAt, expiresAt, sellerLockedAt, buyerLockedAt, completedAt,
	adminFeePercentage, adminFeeAmount, adminFeeCollected, adminFeeTxHash,
	disputeReason, disputeInitiatedBy, disputeResolvedBy, disputeResolution,
	isPublic`
