package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// Location is a stock-holding spot: main store, kitchen, bar, housekeeping...
type Location struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l Location) GetBusinessId() string {
	return l.BusinessId
}

type NewLocation struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewLocation) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[Location](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	location := Location{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func UpdateLocation(ctx context.Context, id int, input *NewLocation) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	location, err := utils.FetchModel[Location](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&location).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Address": input.Address,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Location](id); err != nil {
		return nil, err
	}

	return location, nil
}

func DeleteLocation(ctx context.Context, id int) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	result, err := utils.FetchModel[Location](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// check if location holds stock
	var count int64
	if err := db.WithContext(ctx).Model(&InventoryItem{}).
		Where("location_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("location has inventory items")
	}

	// db action
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Location](id); err != nil {
		return nil, err
	}
	return result, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {
	return GetResource[Location](ctx, id)
}

func ListLocations(ctx context.Context, name *string) ([]*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Location

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveLocation(ctx context.Context, id int, isActive bool) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return ToggleActiveModel[Location](ctx, businessId, id, isActive)
}
