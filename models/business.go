package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// Business is the tenant: one hotel or restaurant property.
type Business struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100" json:"email"`
	Timezone  string    `gorm:"size:50;not null;default:'UTC'" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	return nil
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	business := Business{
		Name:     input.Name,
		Email:    input.Email,
		Timezone: input.Timezone,
		IsActive: utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &business, nil
}

// GetBusinessById loads a business inside a worker transaction (no context tenant scope).
func GetBusinessById(tx *gorm.DB, businessId string) (*Business, error) {
	var business Business
	if err := tx.Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &business, nil
}
