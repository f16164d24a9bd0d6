package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
	"github.com/angelmondragon/webhook-relay/pkg/pagination"
)

const defaultDeadLetterListLimit = 50

// DeadLetterRepository reads and prunes payloads discarded without delivery.
type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// List returns the most recent dead letters, optionally scoped to one mailbox.
func (r *DeadLetterRepository) List(ctx context.Context, mailbox string, limit int) ([]models.WebhookPayloadDeadLetter, error) {
	if limit <= 0 {
		limit = defaultDeadLetterListLimit
	}
	query := r.db.WithContext(ctx)
	if mailbox != "" {
		query = query.Where("mailbox_name = ?", mailbox)
	}
	var rows []models.WebhookPayloadDeadLetter
	err := query.
		Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Page walks dead letters newest first. The returned cursor is empty on the
// last page.
func (r *DeadLetterRepository) Page(ctx context.Context, mailbox string, params pagination.Params) ([]models.WebhookPayloadDeadLetter, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx)
	if mailbox != "" {
		query = query.Where("mailbox_name = ?", mailbox)
	}
	if cursor != nil {
		at := cursor.At.UTC()
		query = query.Where("(failed_at < ?) OR (failed_at = ? AND id < ?)", at, at, cursor.ID)
	}
	var rows []models.WebhookPayloadDeadLetter
	if err := query.
		Order("failed_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	if len(rows) <= limit {
		return rows, "", nil
	}
	rows = rows[:limit]
	last := rows[len(rows)-1]
	return rows, pagination.EncodeCursor(pagination.Cursor{At: last.FailedAt, ID: last.ID}), nil
}

func (r *DeadLetterRepository) Get(ctx context.Context, id int64) (*models.WebhookPayloadDeadLetter, error) {
	var letter models.WebhookPayloadDeadLetter
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&letter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("dead letter %d not found", id))
		}
		return nil, err
	}
	return &letter, nil
}

func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.WebhookPayloadDeadLetter{}).Count(&n).Error
	return n, err
}

// DeleteTx removes one dead letter inside tx.
func (r *DeadLetterRepository) DeleteTx(tx *gorm.DB, id int64) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	res := tx.Where("id = ?", id).Delete(&models.WebhookPayloadDeadLetter{})
	return res.RowsAffected, res.Error
}

// DeleteOlderThan prunes dead letters that failed before cutoff.
func (r *DeadLetterRepository) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	res := conn.WithContext(ctx).
		Where("failed_at < ?", cutoff.UTC()).
		Delete(&models.WebhookPayloadDeadLetter{})
	return res.RowsAffected, res.Error
}

// Replay moves a dead letter back into its mailbox as a fresh payload with no
// recorded attempts. The new payload takes a new id, so it queues behind
// whatever is already waiting in the mailbox.
func (s *Store) Replay(ctx context.Context, letters *DeadLetterRepository, id int64) (*models.WebhookPayload, error) {
	if letters == nil {
		return nil, errors.New("dead letter repository required")
	}
	var replayed *models.WebhookPayload
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		letter, err := NewDeadLetterRepository(tx).Get(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		payload := &models.WebhookPayload{
			MailboxName:     letter.MailboxName,
			DestinationType: letter.DestinationType,
			RegionName:      letter.RegionName,
			ThirdPartyRef:   letter.ThirdPartyRef,
			Provider:        letter.Provider,
			RequestMethod:   letter.RequestMethod,
			RequestPath:     letter.RequestPath,
			RequestHeaders:  letter.RequestHeaders,
			RequestBody:     letter.RequestBody,
			ScheduleFor:     now,
			DateAdded:       now,
		}
		if err := tx.Create(payload).Error; err != nil {
			return fmt.Errorf("requeue payload: %w", err)
		}
		if _, err := letters.DeleteTx(tx, id); err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		replayed = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replayed, nil
}

// DeadLetterService is the operator view over dead letters.
type DeadLetterService struct {
	store   *Store
	letters *DeadLetterRepository
}

func NewDeadLetterService(store *Store, letters *DeadLetterRepository) *DeadLetterService {
	return &DeadLetterService{store: store, letters: letters}
}

func (s *DeadLetterService) List(ctx context.Context, mailbox string, page pagination.Params) ([]models.WebhookPayloadDeadLetter, string, error) {
	return s.letters.Page(ctx, mailbox, page)
}

func (s *DeadLetterService) Get(ctx context.Context, id int64) (*models.WebhookPayloadDeadLetter, error) {
	return s.letters.Get(ctx, id)
}

func (s *DeadLetterService) Replay(ctx context.Context, id int64) (*models.WebhookPayload, error) {
	return s.store.Replay(ctx, s.letters, id)
}
