package models

import (
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

// WebhookPayloadDeadLetter keeps a copy of payloads discarded without delivery
// so operators can inspect or replay them.
type WebhookPayloadDeadLetter struct {
	ID              int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	PayloadID       int64                  `gorm:"column:payload_id;not null;index"`
	MailboxName     string                 `gorm:"column:mailbox_name;size:200;not null"`
	DestinationType enums.DestinationType  `gorm:"column:destination_type;size:32;not null"`
	RegionName      string                 `gorm:"column:region_name;size:48;not null;default:''"`
	ThirdPartyRef   string                 `gorm:"column:third_party_ref;size:64;not null;default:''"`
	Provider        string                 `gorm:"column:provider;size:64;not null;default:''"`
	RequestMethod   string                 `gorm:"column:request_method;size:16;not null"`
	RequestPath     string                 `gorm:"column:request_path;not null"`
	RequestHeaders  string                 `gorm:"column:request_headers;not null"`
	RequestBody     string                 `gorm:"column:request_body;not null"`
	Attempts        int                    `gorm:"column:attempts;not null;default:0"`
	Reason          enums.DeadLetterReason `gorm:"column:reason;size:32;not null"`
	DateAdded       time.Time              `gorm:"column:date_added;not null"`
	FailedAt        time.Time              `gorm:"column:failed_at;not null;index"`
}

func (WebhookPayloadDeadLetter) TableName() string { return "webhook_payload_dead_letters" }
