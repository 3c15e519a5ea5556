// Package postgres implements the dispute store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/repositories"
)

const defaultDisputeListSize = 20

var activeDisputeStatuses = []string{string(domain.DisputeStatusOpen), string(domain.DisputeStatusProcessing)}

// DisputeRepository stores disputes in the disputes table. The partial unique index on
// order_id keeps at most one OPEN or PROCESSING dispute per order.
type DisputeRepository struct {
	db *gorm.DB
}

var _ repositories.DisputeRepository = (*DisputeRepository)(nil)

func NewDisputeRepository(db *gorm.DB) (*DisputeRepository, error) {
	if db == nil {
		return nil, errors.New("dispute repository requires database")
	}
	return &DisputeRepository{db: db}, nil
}

// Insert writes a new dispute. Losing the race on the active-dispute index yields a conflict.
func (r *DisputeRepository) Insert(ctx context.Context, dispute domain.Dispute) error {
	model := toDisputeModel(dispute)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapError("disputes.insert", err)
	}
	return nil
}

func (r *DisputeRepository) FindByID(ctx context.Context, disputeID string) (domain.Dispute, error) {
	var model disputeModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(disputeID)).Take(&model).Error; err != nil {
		return domain.Dispute{}, wrapError("disputes.find", err)
	}
	return model.toDomain()
}

// FindActiveByOrder returns the OPEN or PROCESSING dispute of the order, if any.
func (r *DisputeRepository) FindActiveByOrder(ctx context.Context, orderID string) (domain.Dispute, error) {
	var model disputeModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", strings.TrimSpace(orderID), activeDisputeStatuses).
		Take(&model).Error
	if err != nil {
		return domain.Dispute{}, wrapError("disputes.find_active", err)
	}
	return model.toDomain()
}

// List returns disputes newest first with keyset pagination on (created_at, id).
func (r *DisputeRepository) List(ctx context.Context, filter repositories.DisputeListFilter) (domain.CursorPage[domain.Dispute], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Dispute]{}, err
	}
	limit := pagination.Window(filter.Pagination.PageSize, defaultDisputeListSize, 0)

	query := r.db.WithContext(ctx).Model(&disputeModel{})
	if id := strings.TrimSpace(filter.CustomerID); id != "" {
		query = query.Where("customer_id = ?", id)
	}
	if id := strings.TrimSpace(filter.BranchID); id != "" {
		query = query.Where("branch_id = ?", id)
	}
	if id := strings.TrimSpace(filter.OrderID); id != "" {
		query = query.Where("order_id = ?", id)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at, id) < (?, ?)", cursor.After, cursor.ID)
	}

	var models []disputeModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&models).Error; err != nil {
		return domain.CursorPage[domain.Dispute]{}, wrapError("disputes.list", err)
	}

	page := domain.CursorPage[domain.Dispute]{}
	if len(models) > limit {
		models = models[:limit]
		last := models[len(models)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{After: last.CreatedAt, ID: last.ID})
	}
	page.Items = make([]domain.Dispute, 0, len(models))
	for _, model := range models {
		dispute, err := model.toDomain()
		if err != nil {
			return domain.CursorPage[domain.Dispute]{}, err
		}
		page.Items = append(page.Items, dispute)
	}
	return page, nil
}

// UpdateStatus applies the change only while the row still holds update.Expected. A missing
// row is not found; a row in another status is a conflict.
func (r *DisputeRepository) UpdateStatus(ctx context.Context, update repositories.DisputeStatusUpdate) (domain.Dispute, error) {
	id := strings.TrimSpace(update.DisputeID)
	result := r.db.WithContext(ctx).
		Model(&disputeModel{}).
		Where("id = ? AND status = ?", id, string(update.Expected)).
		Updates(map[string]any{
			"status":      string(update.Status),
			"reviewed_by": update.ReviewedBy,
			"resolution":  update.Resolution,
			"resolved_at": update.ResolvedAt,
			"updated_at":  update.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return domain.Dispute{}, wrapError("disputes.update_status", result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return domain.Dispute{}, err
		}
		return domain.Dispute{}, &Error{
			op:       "disputes.update_status",
			err:      fmt.Errorf("dispute %s is %s, expected %s", id, current.Status, update.Expected),
			conflict: true,
		}
	}
	return r.FindByID(ctx, id)
}

type disputeModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Reference   string     `gorm:"column:reference"`
	OrderID     string     `gorm:"column:order_id"`
	CustomerID  string     `gorm:"column:customer_id"`
	BranchID    string     `gorm:"column:branch_id"`
	OrderStatus string     `gorm:"column:order_status"`
	Type        string     `gorm:"column:type"`
	Reason      string     `gorm:"column:reason"`
	Status      string     `gorm:"column:status"`
	Resolution  string     `gorm:"column:resolution"`
	ReviewedBy  string     `gorm:"column:reviewed_by"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (disputeModel) TableName() string { return "disputes" }

func toDisputeModel(d domain.Dispute) disputeModel {
	return disputeModel{
		ID:          d.ID,
		Reference:   d.Reference,
		OrderID:     d.OrderID,
		CustomerID:  d.CustomerID,
		BranchID:    d.BranchID,
		OrderStatus: string(d.OrderStatus),
		Type:        string(d.Type),
		Reason:      d.Reason,
		Status:      string(d.Status),
		Resolution:  d.Resolution,
		ReviewedBy:  d.ReviewedBy,
		ResolvedAt:  d.ResolvedAt,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func (m disputeModel) toDomain() (domain.Dispute, error) {
	status, ok := domain.ParseDisputeStatus(m.Status)
	if !ok {
		return domain.Dispute{}, fmt.Errorf("disputes: row %s has unknown status %q", m.ID, m.Status)
	}
	// Order status snapshots written by older releases may use legacy spellings.
	orderStatus, err := domain.ParseOrderStatus(m.OrderStatus)
	if err != nil {
		orderStatus = domain.OrderStatus(m.OrderStatus)
	}
	kind, ok := domain.ParseDisputeType(m.Type)
	if !ok {
		kind = domain.DisputeType(m.Type)
	}
	return domain.Dispute{
		ID:          m.ID,
		Reference:   m.Reference,
		OrderID:     m.OrderID,
		CustomerID:  m.CustomerID,
		BranchID:    m.BranchID,
		OrderStatus: orderStatus,
		Type:        kind,
		Reason:      m.Reason,
		Status:      status,
		Resolution:  m.Resolution,
		ReviewedBy:  m.ReviewedBy,
		ResolvedAt:  m.ResolvedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
