/*
Package escrowstore persists EscrowOffer records and is the single source of
truth for cross-chain swap state. All writes after creation go through
Transition, a compare-and-swap on the stored status; that CAS is the only
concurrency-control primitive, so multiple orchestrator instances can share
one store without racing on the same offer.
*/
package escrowstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/chainweave/escrow-go/database"
	"github.com/chainweave/escrow-go/escrow"
)

type Store struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

func New(driverName, dataSourceName string) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; a single pooled connection avoids
	// SQLITE_BUSY and keeps :memory: databases from splitting per-conn.
	db.SetMaxOpenConns(1)
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	if _, err = db.Exec(offerTable); err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (s *Store) Close() error {
	s.stmtCache.Clear()
	return s.db.Close()
}

// Create inserts a new offer. The offer must carry status=created and an
// expiry in the future; an ID collision fails with ErrDuplicateOfferID so
// the caller can regenerate.
func (s *Store) Create(offer *escrow.Offer) error {
	if offer.Status != escrow.StatusCreated {
		return fmt.Errorf("cannot insert offer %s with status %s", offer.ID, offer.Status)
	}

	r, err := encode(offer)
	if err != nil {
		return err
	}

	query := `INSERT INTO offer (` + offerColumns + `) VALUES (` +
		strings.TrimSuffix(strings.Repeat("?, ", 38), ", ") + `)`
	stmt := s.stmtCache.MustPrepare(query)

	_, err = stmt.Exec(
		r.OfferID, r.Status,
		r.SellerChain, r.SellerAddress, r.SellerAmount, r.SellerCurrency, r.SellerUserID, r.SellerPayout,
		r.BuyerChain, r.BuyerAddress, r.BuyerAmount, r.BuyerCurrency, r.BuyerUserID, r.BuyerPayout,
		r.SellerEscrowTx, r.BuyerEscrowTx, r.SellerContractAddress, r.BuyerContractAddress,
		r.SellerEscrowOpaque, r.BuyerEscrowOpaque,
		r.SellerReleaseTx, r.BuyerReleaseTx, r.SellerLockConfirmed, r.BuyerLockConfirmed,
		r.CreatedAt, r.ExpiresAt, r.SellerLockedAt, r.BuyerLockedAt, r.CompletedAt,
		r.AdminFeePercentage, r.AdminFeeAmount, r.AdminFeeCollected, r.AdminFeeTxHash,
		r.DisputeReason, r.DisputeInitiatedBy, r.DisputeResolvedBy, r.DisputeResolution,
		r.IsPublic,
	)
	if err != nil {
		if se, ok := err.(sqlite3.Error); ok && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return escrow.ErrDuplicateOfferID
		}
		return err
	}

	return nil
}

func (s *Store) Get(offerID string) (*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer WHERE offerId = ?`
	stmt := s.stmtCache.MustPrepare(query)

	var r sqlOffer
	if err := r.scan(stmt.QueryRow(offerID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, escrow.ErrOfferNotFound
		}
		return nil, err
	}

	return r.decode()
}

// TransitionFields are the columns a transition may set alongside the
// status. Nil pointers leave the stored value untouched.
type TransitionFields struct {
	Buyer *escrow.Leg

	SellerPayout *string
	BuyerPayout  *string

	SellerEscrowTx        *string
	BuyerEscrowTx         *string
	SellerContractAddress *string
	BuyerContractAddress  *string
	SellerEscrowOpaque    *string
	BuyerEscrowOpaque     *string
	SellerReleaseTx       *string
	BuyerReleaseTx        *string
	SellerLockConfirmed   *bool
	BuyerLockConfirmed    *bool

	SellerLockedAt *time.Time
	BuyerLockedAt  *time.Time
	CompletedAt    *time.Time

	AdminFeeCollected *bool
	AdminFeeTxHash    *string

	DisputeReason      *string
	DisputeInitiatedBy *string
	DisputeResolvedBy  *string
	DisputeResolution  *string
}

// Transition atomically moves an offer from one status to another, setting
// the given fields in the same statement. It succeeds only if the stored
// status still equals from; otherwise the caller gets ErrStaleTransition
// and must re-read before deciding anything. from == to is allowed for
// observation bookkeeping (confirmation flags) that does not advance the
// machine. Binding a buyer additionally requires that no buyer is stored
// yet: a same-status write satisfies the status guard by construction, so
// without this two racing acceptances would both win.
func (s *Store) Transition(offerID string, from, to escrow.OfferStatus, fields *TransitionFields) error {
	if from != to && !escrow.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s for offer %s", from, to, offerID)
	}

	set := []string{"status = ?"}
	args := []interface{}{string(to)}
	guard := ""

	add := func(col string, v interface{}) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if fields != nil {
		if fields.Buyer != nil {
			if fields.Buyer.Amount == nil {
				return fmt.Errorf("buyer leg for offer %s has no amount", offerID)
			}
			guard = " AND buyerChain IS NULL"
			add("buyerChain", string(fields.Buyer.Chain))
			add("buyerAddress", fields.Buyer.Address)
			add("buyerAmount", fields.Buyer.Amount.String())
			add("buyerCurrency", fields.Buyer.Currency)
			add("buyerUserId", nullStr(fields.Buyer.UserID))
		}
		if fields.SellerPayout != nil {
			add("sellerPayout", *fields.SellerPayout)
		}
		if fields.BuyerPayout != nil {
			add("buyerPayout", *fields.BuyerPayout)
		}
		if fields.SellerEscrowTx != nil {
			add("sellerEscrowTx", *fields.SellerEscrowTx)
		}
		if fields.BuyerEscrowTx != nil {
			add("buyerEscrowTx", *fields.BuyerEscrowTx)
		}
		if fields.SellerContractAddress != nil {
			add("sellerContractAddress", *fields.SellerContractAddress)
		}
		if fields.BuyerContractAddress != nil {
			add("buyerContractAddress", *fields.BuyerContractAddress)
		}
		if fields.SellerEscrowOpaque != nil {
			add("sellerEscrowOpaque", *fields.SellerEscrowOpaque)
		}
		if fields.BuyerEscrowOpaque != nil {
			add("buyerEscrowOpaque", *fields.BuyerEscrowOpaque)
		}
		if fields.SellerReleaseTx != nil {
			add("sellerReleaseTx", *fields.SellerReleaseTx)
		}
		if fields.BuyerReleaseTx != nil {
			add("buyerReleaseTx", *fields.BuyerReleaseTx)
		}
		if fields.SellerLockConfirmed != nil {
			add("sellerLockConfirmed", *fields.SellerLockConfirmed)
		}
		if fields.BuyerLockConfirmed != nil {
			add("buyerLockConfirmed", *fields.BuyerLockConfirmed)
		}
		if fields.SellerLockedAt != nil {
			add("sellerLockedAt", fields.SellerLockedAt.Unix())
		}
		if fields.BuyerLockedAt != nil {
			add("buyerLockedAt", fields.BuyerLockedAt.Unix())
		}
		if fields.CompletedAt != nil {
			add("completedAt", fields.CompletedAt.Unix())
		}
		if fields.AdminFeeCollected != nil {
			add("adminFeeCollected", *fields.AdminFeeCollected)
		}
		if fields.AdminFeeTxHash != nil {
			add("adminFeeTxHash", *fields.AdminFeeTxHash)
		}
		if fields.DisputeReason != nil {
			add("disputeReason", *fields.DisputeReason)
		}
		if fields.DisputeInitiatedBy != nil {
			add("disputeInitiatedBy", *fields.DisputeInitiatedBy)
		}
		if fields.DisputeResolvedBy != nil {
			add("disputeResolvedBy", *fields.DisputeResolvedBy)
		}
		if fields.DisputeResolution != nil {
			add("disputeResolution", *fields.DisputeResolution)
		}
	}

	query := `UPDATE offer SET ` + strings.Join(set, ", ") + ` WHERE offerId = ? AND status = ?` + guard
	args = append(args, offerID, string(from))

	stmt := s.stmtCache.MustPrepare(query)
	res, err := stmt.Exec(args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// distinguish a vanished offer from a lost race
		if _, err := s.Get(offerID); err != nil {
			return err
		}
		return escrow.ErrStaleTransition
	}

	return nil
}

// UpdateExpiry moves an offer's hard deadline, e.g. a seller extending an
// open listing. Terminal offers are immutable.
func (s *Store) UpdateExpiry(offerID string, at time.Time) error {
	query := `UPDATE offer SET expiresAt = ?
		WHERE offerId = ? AND status NOT IN ('completed', 'cancelled', 'refunded')`
	stmt := s.stmtCache.MustPrepare(query)

	res, err := stmt.Exec(at.Unix(), offerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(offerID); err != nil {
			return err
		}
		return escrow.ErrStaleTransition
	}
	return nil
}

// FindExpiring returns non-terminal, non-disputed offers whose expiresAt
// is at or before the given instant, for the orchestrator's expiry sweep.
// Disputed offers are frozen and excluded; only an admin resolution moves
// them.
func (s *Store) FindExpiring(before time.Time) ([]*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer
		WHERE expiresAt <= ? AND status IN ('created', 'seller_locked', 'buyer_locked', 'both_locked')`
	stmt := s.stmtCache.MustPrepare(query)

	rows, err := stmt.Query(before.Unix())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// FindAwaitingLockConfirmation returns offers with an unconfirmed recorded
// lock on the given chain. The monitor polls this set; the confirmed flag
// doubles as the dedup guard against re-processing an observation.
func (s *Store) FindAwaitingLockConfirmation(chain escrow.Chain) ([]*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer
		WHERE status IN ('seller_locked', 'buyer_locked', 'both_locked')
		AND ((sellerChain = ? AND sellerEscrowTx IS NOT NULL AND sellerLockConfirmed = 0)
			OR (buyerChain = ? AND buyerEscrowTx IS NOT NULL AND buyerLockConfirmed = 0))`
	stmt := s.stmtCache.MustPrepare(query)

	rows, err := stmt.Query(string(chain), string(chain))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) FindByAddress(address string) ([]*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer
		WHERE sellerAddress = ? OR buyerAddress = ?`
	stmt := s.stmtCache.MustPrepare(query)

	rows, err := stmt.Query(address, address)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) FindByUser(userID string) ([]*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer
		WHERE sellerUserId = ? OR buyerUserId = ?`
	stmt := s.stmtCache.MustPrepare(query)

	rows, err := stmt.Query(userID, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// FindPublic returns discoverable offers still waiting for a buyer.
func (s *Store) FindPublic() ([]*escrow.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offer
		WHERE isPublic = 1 AND status = 'created' AND buyerChain IS NULL`
	stmt := s.stmtCache.MustPrepare(query)

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*escrow.Offer, error) {
	defer rows.Close()

	var offers []*escrow.Offer
	for rows.Next() {
		var r sqlOffer
		if err := r.scan(rows); err != nil {
			return nil, err
		}
		offer, err := r.decode()
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}
