package models

import (
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

// WebhookPayload is a pending request waiting in a mailbox for delivery.
// ID doubles as the mailbox ordering key.
type WebhookPayload struct {
	ID              int64                 `gorm:"column:id;primaryKey;autoIncrement;index:idx_webhook_payloads_mailbox_id,priority:2"`
	MailboxName     string                `gorm:"column:mailbox_name;size:200;not null;index:idx_webhook_payloads_mailbox_id,priority:1"`
	DestinationType enums.DestinationType `gorm:"column:destination_type;size:32;not null;default:region"`
	RegionName      string                `gorm:"column:region_name;size:48;not null;default:''"`
	ThirdPartyRef   string                `gorm:"column:third_party_ref;size:64;not null;default:''"`
	Provider        string                `gorm:"column:provider;size:64;not null;default:''"`
	RequestMethod   string                `gorm:"column:request_method;size:16;not null"`
	RequestPath     string                `gorm:"column:request_path;not null"`
	RequestHeaders  string                `gorm:"column:request_headers;not null;default:'{}'"`
	RequestBody     string                `gorm:"column:request_body;not null;default:''"`
	Attempts        int                   `gorm:"column:attempts;not null;default:0"`
	ScheduleFor     time.Time             `gorm:"column:schedule_for;not null;index"`
	DateAdded       time.Time             `gorm:"column:date_added;not null;autoCreateTime"`
}

func (WebhookPayload) TableName() string { return "webhook_payloads" }
