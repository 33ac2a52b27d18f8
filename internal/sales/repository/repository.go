package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Sale     *SaleRepository
	Buyer    *BuyerRepository
	Incident *IncidentRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Sale:     NewSaleRepository(db),
		Buyer:    NewBuyerRepository(db),
		Incident: NewIncidentRepository(db),
	}
}
