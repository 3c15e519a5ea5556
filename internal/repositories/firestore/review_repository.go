package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/furnishop/commerce/internal/domain"
	pfirestore "github.com/furnishop/commerce/internal/platform/firestore"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/repositories"
)

const (
	reviewCollection     = "reviews"
	defaultReviewListMax = 20
)

// ReviewRepository stores reviews keyed by (customer, product) so the datastore itself rejects
// a second review of the same product by the same customer.
type ReviewRepository struct {
	reviews *pfirestore.Collection[reviewDocument]
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{reviews: pfirestore.NewCollection[reviewDocument](provider, reviewCollection)}, nil
}

// Insert creates the review. A concurrent or repeated review of the pair fails with a conflict.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	return r.reviews.Create(ctx, reviewDocumentID(review.CustomerID, review.ProductID), reviewDocument{
		ReviewID:   review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  review.CreatedAt.UTC(),
	})
}

// FindByCustomerProduct returns the customer's review of the product or a not-found error.
func (r *ReviewRepository) FindByCustomerProduct(ctx context.Context, customerID, productID string) (domain.Review, error) {
	doc, err := r.reviews.Get(ctx, reviewDocumentID(customerID, productID))
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(), nil
}

// ListByProduct returns reviews of the product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	limit := pagination.Window(pager.PageSize, defaultReviewListMax, 0)

	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("productId", "==", strings.TrimSpace(productID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.After, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	page := domain.CursorPage[domain.Review]{}
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{After: last.Data.CreatedAt, ID: last.ID})
	}
	page.Items = make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain())
	}
	return page, nil
}

// reviewDocumentID hashes the pair so arbitrary ids never produce an invalid document path.
func reviewDocumentID(customerID, productID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(customerID) + "\x00" + strings.TrimSpace(productID)))
	return hex.EncodeToString(sum[:])
}

type reviewDocument struct {
	ReviewID   string    `firestore:"reviewId"`
	ProductID  string    `firestore:"productId"`
	CustomerID string    `firestore:"customerId"`
	Rating     int       `firestore:"rating"`
	Comment    string    `firestore:"comment"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func (d reviewDocument) toDomain() domain.Review {
	return domain.Review{
		ID:         d.ReviewID,
		ProductID:  d.ProductID,
		CustomerID: d.CustomerID,
		Rating:     d.Rating,
		Comment:    d.Comment,
		CreatedAt:  d.CreatedAt,
	}
}
