package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/webhook-relay/api/middleware"
	"github.com/angelmondragon/webhook-relay/api/responses"
	"github.com/angelmondragon/webhook-relay/api/validators"
	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/pagination"
)

type DeadLetterService interface {
	List(ctx context.Context, mailbox string, page pagination.Params) ([]models.WebhookPayloadDeadLetter, string, error)
	Get(ctx context.Context, id int64) (*models.WebhookPayloadDeadLetter, error)
	Replay(ctx context.Context, id int64) (*models.WebhookPayload, error)
}

type deadLetterView struct {
	ID              int64     `json:"id"`
	PayloadID       int64     `json:"payload_id"`
	MailboxName     string    `json:"mailbox_name"`
	DestinationType string    `json:"destination_type"`
	RegionName      string    `json:"region_name,omitempty"`
	ThirdPartyRef   string    `json:"third_party_ref,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	RequestMethod   string    `json:"request_method"`
	RequestPath     string    `json:"request_path"`
	Attempts        int       `json:"attempts"`
	Reason          string    `json:"reason"`
	DateAdded       time.Time `json:"date_added"`
	FailedAt        time.Time `json:"failed_at"`
}

type deadLetterDetail struct {
	deadLetterView
	RequestHeaders string `json:"request_headers"`
	RequestBody    string `json:"request_body"`
}

type replayedPayload struct {
	DeadLetterID int64     `json:"dead_letter_id"`
	PayloadID    int64     `json:"payload_id"`
	MailboxName  string    `json:"mailbox_name"`
	ScheduleFor  time.Time `json:"schedule_for"`
}

type replayBatchBody struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=100,dive,gt=0"`
}

type replayFailure struct {
	DeadLetterID int64  `json:"dead_letter_id"`
	Code         string `json:"code"`
}

func viewOf(letter models.WebhookPayloadDeadLetter) deadLetterView {
	return deadLetterView{
		ID:              letter.ID,
		PayloadID:       letter.PayloadID,
		MailboxName:     letter.MailboxName,
		DestinationType: string(letter.DestinationType),
		RegionName:      letter.RegionName,
		ThirdPartyRef:   letter.ThirdPartyRef,
		Provider:        letter.Provider,
		RequestMethod:   letter.RequestMethod,
		RequestPath:     letter.RequestPath,
		Attempts:        letter.Attempts,
		Reason:          string(letter.Reason),
		DateAdded:       letter.DateAdded,
		FailedAt:        letter.FailedAt,
	}
}

type deadLetterPage struct {
	Items      []deadLetterView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ListDeadLetters pages through dead letters newest first, optionally for one mailbox.
func ListDeadLetters(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := r.URL.Query()
		mailbox := validators.SanitizeString(query.Get("mailbox"), 200)
		page := pagination.Params{Limit: limit, Cursor: validators.SanitizeString(query.Get("cursor"), 256)}

		letters, next, err := svc.List(r.Context(), mailbox, page)
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]deadLetterView, 0, len(letters))
		for _, letter := range letters {
			views = append(views, viewOf(letter))
		}
		responses.WriteSuccess(w, deadLetterPage{Items: views, NextCursor: next})
	}
}

func GetDeadLetter(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		letter, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deadLetterDetail{
			deadLetterView: viewOf(*letter),
			RequestHeaders: letter.RequestHeaders,
			RequestBody:    letter.RequestBody,
		})
	}
}

// ReplayDeadLetter requeues one dead letter at the tail of its mailbox.
func ReplayDeadLetter(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload, err := svc.Replay(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logReplay(r.Context(), logg, id, payload)
		responses.WriteSuccessStatus(w, http.StatusCreated, replayedPayload{
			DeadLetterID: id,
			PayloadID:    payload.ID,
			MailboxName:  payload.MailboxName,
			ScheduleFor:  payload.ScheduleFor,
		})
	}
}

// ReplayDeadLetters replays a batch of ids in the order given. Ids that fail are
// reported back without aborting the rest.
func ReplayDeadLetters(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body replayBatchBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		replayed := make([]replayedPayload, 0, len(body.IDs))
		failed := []replayFailure{}
		for _, id := range body.IDs {
			payload, err := svc.Replay(r.Context(), id)
			if err != nil {
				code := pkgerrors.CodeInternal
				if typed := pkgerrors.As(err); typed != nil {
					code = typed.Code()
				}
				failed = append(failed, replayFailure{DeadLetterID: id, Code: string(code)})
				continue
			}
			logReplay(r.Context(), logg, id, payload)
			replayed = append(replayed, replayedPayload{
				DeadLetterID: id,
				PayloadID:    payload.ID,
				MailboxName:  payload.MailboxName,
				ScheduleFor:  payload.ScheduleFor,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"replayed": replayed,
			"failed":   failed,
		})
	}
}

func logReplay(ctx context.Context, logg *logger.Logger, deadLetterID int64, payload *models.WebhookPayload) {
	if logg == nil {
		return
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"dead_letter_id": deadLetterID,
		"payload_id":     payload.ID,
		"mailbox_name":   payload.MailboxName,
		"operator":       middleware.OperatorFromContext(ctx),
	})
	logg.Info(ctx, "dead_letter.replayed")
}
