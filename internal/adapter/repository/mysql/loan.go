package mysql

import (
	"context"
	"errors"
	"time"

	"bnpl-engine/internal/domain/errs"
	loanDomain "bnpl-engine/internal/domain/loan"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LoanRepository struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

func (r *LoanRepository) Create(ctx context.Context, l *loanDomain.Loan) error {
	if l.Version == 0 {
		l.Version = 1
	}
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).Where("loan_id = ?", loanID).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "loan", loanID)
	}
	return &out, nil
}

// getByLoanIDForUpdate takes a row lock on dialects that support it.
func (r *LoanRepository) getByLoanIDForUpdate(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("loan_id = ?", loanID).
		First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "loan", loanID)
	}
	return &out, nil
}

func (r *LoanRepository) Update(ctx context.Context, l *loanDomain.Loan) error {
	return updateVersioned(ctx, r.db, l, &l.Version, "loan", l.LoanID)
}

func (r *LoanRepository) ListByBorrowerID(ctx context.Context, borrowerID string) ([]loanDomain.Loan, error) {
	var out []loanDomain.Loan
	err := r.db.WithContext(ctx).
		Where("borrower_id = ?", borrowerID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

type InstallmentRepository struct{ db *gorm.DB }

func NewInstallmentRepository(db *gorm.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

func (r *InstallmentRepository) CreateBatch(ctx context.Context, items []loanDomain.Installment) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].Version == 0 {
			items[i].Version = 1
		}
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *InstallmentRepository) ListByLoanID(ctx context.Context, loanID string) ([]loanDomain.Installment, error) {
	var out []loanDomain.Installment
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("sequence_no ASC").
		Find(&out).Error
	return out, err
}

func (r *InstallmentRepository) GetBySequence(ctx context.Context, loanID string, seq int) (*loanDomain.Installment, error) {
	var out loanDomain.Installment
	res := r.db.WithContext(ctx).Where("loan_id = ? AND sequence_no = ?", loanID, seq).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "installment", loanID)
	}
	return &out, nil
}

func (r *InstallmentRepository) Update(ctx context.Context, i *loanDomain.Installment) error {
	return updateVersioned(ctx, r.db, i, &i.Version, "installment", i.InstallmentID)
}

func (r *InstallmentRepository) ListUnsettledDueBefore(ctx context.Context, asOf time.Time, limit int) ([]loanDomain.Installment, error) {
	var out []loanDomain.Installment
	q := r.db.WithContext(ctx).
		Select("installments.*").
		Joins("JOIN loans ON loans.loan_id = installments.loan_id AND loans.deleted_at IS NULL").
		Where("installments.status IN ? AND installments.due_at < ? AND loans.status IN ?",
			[]loanDomain.InstallmentStatus{loanDomain.InstallmentUpcoming, loanDomain.InstallmentDue},
			asOf, loanDomain.SweepableStatuses).
		Order("installments.due_at ASC, installments.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(entity, id)
	}
	return err
}

// updateVersioned writes every column of model guarded by the version it was
// read at. version is bumped in place on success and restored on conflict.
func updateVersioned(ctx context.Context, db *gorm.DB, model any, version *int64, entity, id string) error {
	prev := *version
	*version = prev + 1
	res := db.WithContext(ctx).
		Model(model).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if res.Error != nil {
		*version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		*version = prev
		return &errs.VersionConflictError{Entity: entity, ID: id, Version: prev}
	}
	return nil
}
