package entity

import "time"

// Buyer 买家
// owner_id 一经设定即为权威归属：只有该shopper可以认领此买家名下的销售
type Buyer struct {
	ID                string `json:"id" gorm:"primaryKey;size:32"`
	Name              string `json:"name" gorm:"size:200;not null"`
	ExternalContactID string `json:"external_contact_id" gorm:"size:64;index"`

	OwnerID        string     `json:"owner_id" gorm:"size:32;index"` // 空串表示未归属
	OwnerChangedAt *time.Time `json:"owner_changed_at"`
	OwnerChangedBy string     `json:"owner_changed_by" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Buyer) TableName() string {
	return "buyers"
}
