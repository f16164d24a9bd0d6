package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

// EnqueueRequest describes a request to be replayed against a destination.
type EnqueueRequest struct {
	MailboxName     string                `validate:"required,max=200"`
	DestinationType enums.DestinationType `validate:"required,oneof=region third_party"`
	RegionName      string                `validate:"required_if=DestinationType region,max=48"`
	ThirdPartyRef   string                `validate:"required_if=DestinationType third_party,max=64"`
	Provider        string                `validate:"max=64"`
	RequestMethod   string                `validate:"required,oneof=GET POST PUT PATCH DELETE"`
	RequestPath     string                `validate:"required"`
	RequestHeaders  map[string]string
	RequestBody     string
	ScheduleFor     time.Time
}

// Ranking maps providers to scheduling priority; lower values are scheduled first.
type Ranking interface {
	Entries() map[string]int
	Default() int
}

// DueHead is the oldest payload of a mailbox whose schedule has come due.
type DueHead struct {
	ID          int64  `gorm:"column:id"`
	MailboxName string `gorm:"column:mailbox_name"`
	Provider    string `gorm:"column:provider"`
	Priority    int    `gorm:"column:provider_priority"`
}

// Store is the durable, id-ordered queue of pending payloads grouped by mailbox.
// Every mutation is a bulk or conditional statement, so losing a race to another
// worker shows up as a zero row count rather than an error.
type Store struct {
	db      *gorm.DB
	backoff Backoff
	now     func() time.Time
}

// NewStore builds a mailbox store bound to the provided DB.
func NewStore(db *gorm.DB, backoff Backoff) *Store {
	return &Store{db: db, backoff: backoff, now: time.Now}
}

// WithTx returns a store that runs its statements on tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{db: tx, backoff: s.backoff, now: s.now}
}

// Backoff returns the retry policy applied by ScheduleNextAttempt.
func (s *Store) Backoff() Backoff {
	return s.backoff
}

func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*models.WebhookPayload, error) {
	if err := validate.Struct(req); err != nil {
		return nil, formatValidationErrors(err)
	}
	headers := req.RequestHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode request headers")
	}
	now := s.now().UTC()
	scheduleFor := req.ScheduleFor
	if scheduleFor.IsZero() {
		scheduleFor = now
	}
	payload := &models.WebhookPayload{
		MailboxName:     req.MailboxName,
		DestinationType: req.DestinationType,
		RegionName:      req.RegionName,
		ThirdPartyRef:   req.ThirdPartyRef,
		Provider:        strings.ToLower(strings.TrimSpace(req.Provider)),
		RequestMethod:   req.RequestMethod,
		RequestPath:     req.RequestPath,
		RequestHeaders:  string(encoded),
		RequestBody:     req.RequestBody,
		ScheduleFor:     scheduleFor.UTC(),
		DateAdded:       now,
	}
	if err := s.db.WithContext(ctx).Create(payload).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payload already enqueued")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue payload")
	}
	return payload, nil
}

// Get loads a payload by id. A missing row yields a CodeNotFound error.
func (s *Store) Get(ctx context.Context, id int64) (*models.WebhookPayload, error) {
	var payload models.WebhookPayload
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&payload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("payload %d not found", id))
		}
		return nil, err
	}
	return &payload, nil
}

// HeadOf returns the lowest payload id in mailbox, or a CodeNotFound error when it is empty.
func (s *Store) HeadOf(ctx context.Context, mailbox string) (int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("mailbox_name = ?", mailbox).
		Order("id ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("mailbox %q is empty", mailbox))
	}
	return ids[0], nil
}

// FetchWindow returns up to limit payloads of mailbox with id >= fromID, in id order.
func (s *Store) FetchWindow(ctx context.Context, mailbox string, fromID int64, limit int) ([]models.WebhookPayload, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []models.WebhookPayload
	err := s.db.WithContext(ctx).
		Where("mailbox_name = ? AND id >= ?", mailbox, fromID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Store) mailboxHeads() *gorm.DB {
	return s.db.Model(&models.WebhookPayload{}).
		Select("MIN(id)").
		Group("mailbox_name")
}

// CountDueMailboxes counts mailboxes whose head payload is due at now.
func (s *Store) CountDueMailboxes(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("id IN (?)", s.mailboxHeads()).
		Where("schedule_for <= ?", now.UTC()).
		Count(&count).Error
	return count, err
}

// DueMailboxes returns up to limit mailbox heads due at now, ordered by provider
// priority and then by head id.
func (s *Store) DueMailboxes(ctx context.Context, now time.Time, ranking Ranking, limit int) ([]DueHead, error) {
	if limit <= 0 {
		return nil, nil
	}
	priority, args := priorityExpr(ranking)
	var heads []DueHead
	err := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Select("id, mailbox_name, provider, "+priority+" AS provider_priority", args...).
		Where("id IN (?)", s.mailboxHeads()).
		Where("schedule_for <= ?", now.UTC()).
		Order("provider_priority ASC").
		Order("id ASC").
		Limit(limit).
		Scan(&heads).Error
	return heads, err
}

func priorityExpr(ranking Ranking) (string, []any) {
	if ranking == nil {
		return "0", nil
	}
	entries := ranking.Entries()
	providers := make([]string, 0, len(entries))
	for provider := range entries {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	var b strings.Builder
	args := make([]any, 0, len(providers)*2+1)
	b.WriteString("CASE")
	for _, provider := range providers {
		b.WriteString(" WHEN provider = ? THEN ?")
		args = append(args, provider, entries[provider])
	}
	b.WriteString(" ELSE ? END")
	args = append(args, ranking.Default())
	return b.String(), args
}

// LeaseWindow pushes schedule_for to until for up to limit payloads of mailbox
// starting at fromID, hiding them from other scheduler ticks while a drain runs.
func (s *Store) LeaseWindow(ctx context.Context, mailbox string, fromID int64, limit int, until time.Time) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	window := s.db.Model(&models.WebhookPayload{}).
		Select("id").
		Where("mailbox_name = ? AND id >= ?", mailbox, fromID).
		Order("id ASC").
		Limit(limit)
	res := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("id IN (?)", window).
		Update("schedule_for", until.UTC())
	return res.RowsAffected, res.Error
}

// Reschedule sets schedule_for on the given payloads.
func (s *Store) Reschedule(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("id IN ?", ids).
		Update("schedule_for", at.UTC())
	return res.RowsAffected, res.Error
}

// ScheduleNextAttempt records one more attempt on payload and backs off its schedule.
// The in-memory payload is updated to match. A zero count means the payload is gone.
func (s *Store) ScheduleNextAttempt(ctx context.Context, payload *models.WebhookPayload) (int64, error) {
	if payload == nil {
		return 0, errors.New("payload is required")
	}
	attempts := payload.Attempts + 1
	next := s.backoff.NextSchedule(attempts, s.now().UTC(), payload.ScheduleFor.UTC())
	res := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("id = ?", payload.ID).
		Updates(map[string]any{
			"attempts":     gorm.Expr("attempts + 1"),
			"schedule_for": next,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		payload.Attempts = attempts
		payload.ScheduleFor = next
	}
	return res.RowsAffected, nil
}

// Delete removes the given payloads. Ids that are already gone are ignored.
func (s *Store) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.WebhookPayload{})
	return res.RowsAffected, res.Error
}

// Discard removes payload without delivering it and keeps a dead letter copy.
// Nothing is recorded when another worker already removed the payload.
func (s *Store) Discard(ctx context.Context, payload *models.WebhookPayload, reason enums.DeadLetterReason) (int64, error) {
	if payload == nil {
		return 0, errors.New("payload is required")
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", payload.ID).Delete(&models.WebhookPayload{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if deleted == 0 {
			return nil
		}
		letter := deadLetterFrom(*payload, reason, s.now().UTC())
		return tx.Create(&letter).Error
	})
	if err != nil {
		return 0, fmt.Errorf("discard payload %d: %w", payload.ID, err)
	}
	return deleted, nil
}

const deadLetterCopySQL = `INSERT INTO webhook_payload_dead_letters
  (payload_id, mailbox_name, destination_type, region_name, third_party_ref, provider,
   request_method, request_path, request_headers, request_body, attempts, reason, date_added, failed_at)
SELECT id, mailbox_name, destination_type, region_name, third_party_ref, provider,
   request_method, request_path, request_headers, request_body, attempts, ?, date_added, ?
FROM webhook_payloads WHERE id IN ?`

// DeleteOlderThan removes up to limit payloads of mailbox added before cutoff,
// copying them to the dead letter table first.
func (s *Store) DeleteOlderThan(ctx context.Context, mailbox string, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&models.WebhookPayload{}).
		Where("mailbox_name = ? AND date_added < ?", mailbox, cutoff.UTC()).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(deadLetterCopySQL, string(enums.DeadLetterMaxAge), s.now().UTC(), ids).Error; err != nil {
			return fmt.Errorf("copy dead letters: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&models.WebhookPayload{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale payloads: %w", err)
	}
	return deleted, nil
}

func deadLetterFrom(p models.WebhookPayload, reason enums.DeadLetterReason, failedAt time.Time) models.WebhookPayloadDeadLetter {
	return models.WebhookPayloadDeadLetter{
		PayloadID:       p.ID,
		MailboxName:     p.MailboxName,
		DestinationType: p.DestinationType,
		RegionName:      p.RegionName,
		ThirdPartyRef:   p.ThirdPartyRef,
		Provider:        p.Provider,
		RequestMethod:   p.RequestMethod,
		RequestPath:     p.RequestPath,
		RequestHeaders:  p.RequestHeaders,
		RequestBody:     p.RequestBody,
		Attempts:        p.Attempts,
		Reason:          reason,
		DateAdded:       p.DateAdded,
		FailedAt:        failedAt,
	}
}

// IsNotFound reports whether err means the payload or mailbox no longer exists.
func IsNotFound(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeNotFound)
}
