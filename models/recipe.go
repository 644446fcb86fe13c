package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// Recipe is the bill of materials for one sellable menu product.
// ProductRef identifies the product in the POS; it is opaque here.
// ServingSize is how many servings the costed preparation yields;
// CostPerServing divides by it. Deduction quantities are per serving.
type Recipe struct {
	ID          int                `gorm:"primary_key" json:"id"`
	BusinessId  string             `gorm:"index;not null;index:uniq_recipe_product,unique,priority:1" json:"business_id"`
	Name        string             `gorm:"size:100;not null" json:"name" binding:"required"`
	ProductRef  string             `gorm:"size:50;not null;index:uniq_recipe_product,unique,priority:2" json:"product_ref" binding:"required"`
	ServingSize decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:1" json:"serving_size"`
	Ingredients []RecipeIngredient `gorm:"foreignKey:RecipeId" json:"ingredients"`
	IsActive    *bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Recipe) GetBusinessId() string {
	return r.BusinessId
}

// servingSizeOrOne guards the per-serving division against legacy rows
// created before the column existed.
func (r *Recipe) servingSizeOrOne() decimal.Decimal {
	if r.ServingSize.IsPositive() {
		return r.ServingSize
	}
	return decimal.NewFromInt(1)
}

// RecipeIngredient is one line of a recipe: qty of an item per serving.
type RecipeIngredient struct {
	ID       int             `gorm:"primary_key" json:"id"`
	RecipeId int             `gorm:"index;not null" json:"recipe_id"`
	ItemId   int             `gorm:"index;not null" json:"item_id"`
	Qty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
}

type NewRecipe struct {
	Name        string                `json:"name" binding:"required"`
	ProductRef  string                `json:"product_ref" binding:"required"`
	ServingSize decimal.Decimal       `json:"serving_size"`
	Ingredients []NewRecipeIngredient `json:"ingredients" binding:"required,dive"`
}

type NewRecipeIngredient struct {
	ItemId int             `json:"item_id" binding:"required"`
	Qty    decimal.Decimal `json:"qty"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewRecipe) validate(ctx context.Context, businessId string, id int) error {
	// product ref
	if err := utils.ValidateUnique[Recipe](ctx, businessId, "product_ref", input.ProductRef, id); err != nil {
		return err
	}
	if input.ServingSize.IsNegative() {
		return &utils.InvalidQuantityError{Qty: input.ServingSize, Reason: "serving size must be positive"}
	}
	if len(input.Ingredients) == 0 {
		return errors.New("recipe needs at least one ingredient")
	}
	seen := map[int]bool{}
	for _, ingredient := range input.Ingredients {
		if !ingredient.Qty.IsPositive() {
			return &utils.InvalidQuantityError{Qty: ingredient.Qty, Reason: "ingredient qty must be positive"}
		}
		if seen[ingredient.ItemId] {
			return errors.New("duplicate ingredient item in recipe")
		}
		seen[ingredient.ItemId] = true
		if err := utils.ValidateResourceId[InventoryItem](ctx, businessId, ingredient.ItemId); err != nil {
			return errors.New("ingredient item not found")
		}
	}
	return nil
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	servingSize := input.ServingSize
	if !servingSize.IsPositive() {
		servingSize = decimal.NewFromInt(1)
	}

	recipe := Recipe{
		BusinessId:  businessId,
		Name:        input.Name,
		ProductRef:  input.ProductRef,
		ServingSize: servingSize,
		IsActive:    utils.NewTrue(),
	}
	for _, ingredient := range input.Ingredients {
		recipe.Ingredients = append(recipe.Ingredients, RecipeIngredient{
			ItemId: ingredient.ItemId,
			Qty:    ingredient.Qty,
		})
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&recipe).Error
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// UpdateRecipe replaces the ingredient list wholesale. Past deductions keep
// their ledger entries; edits only affect future orders.
func UpdateRecipe(ctx context.Context, id int, input *NewRecipe) (*Recipe, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	recipe, err := utils.FetchModel[Recipe](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		servingSize := input.ServingSize
		if !servingSize.IsPositive() {
			servingSize = decimal.NewFromInt(1)
		}
		err := tx.Model(recipe).Updates(map[string]interface{}{
			"Name":        input.Name,
			"ProductRef":  input.ProductRef,
			"ServingSize": servingSize,
		}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("recipe_id = ?", id).Delete(&RecipeIngredient{}).Error; err != nil {
			return err
		}
		for _, ingredient := range input.Ingredients {
			row := RecipeIngredient{
				RecipeId: id,
				ItemId:   ingredient.ItemId,
				Qty:      ingredient.Qty,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Recipe](id); err != nil {
		return nil, err
	}

	return GetRecipe(ctx, id)
}

func DeleteRecipe(ctx context.Context, id int) (*Recipe, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	result, err := utils.FetchModel[Recipe](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// db action
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recipe_id = ?", id).Delete(&RecipeIngredient{}).Error; err != nil {
			return err
		}
		return tx.Delete(&result).Error
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Recipe](id); err != nil {
		return nil, err
	}
	return result, nil
}

func GetRecipe(ctx context.Context, id int) (*Recipe, error) {
	return GetResource[Recipe](ctx, id, "Ingredients")
}

func ListRecipes(ctx context.Context, name *string) ([]*Recipe, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Recipe

	dbCtx := db.WithContext(ctx).Preload("Ingredients").Where("business_id = ?", businessId)
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

func ToggleActiveRecipe(ctx context.Context, id int, isActive bool) (*Recipe, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return ToggleActiveModel[Recipe](ctx, businessId, id, isActive)
}

// GetRecipeByProductRef resolves the recipe a POS product line maps to.
// Returns nil (not an error) when the product has no recipe; such lines are
// skipped by the deduction workflow and reported back.
func GetRecipeByProductRef(tx *gorm.DB, businessId string, productRef string) (*Recipe, error) {
	var recipe Recipe
	err := tx.Preload("Ingredients").
		Where("business_id = ? AND product_ref = ?", businessId, productRef).
		First(&recipe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// ResolveRecipeRequirements scales a recipe's per-serving quantities by the
// serving count. Pure.
func ResolveRecipeRequirements(recipe *Recipe, servings decimal.Decimal) map[int]decimal.Decimal {
	requirements := make(map[int]decimal.Decimal, len(recipe.Ingredients))
	for _, ingredient := range recipe.Ingredients {
		requirements[ingredient.ItemId] = requirements[ingredient.ItemId].
			Add(ingredient.Qty.Mul(servings))
	}
	return requirements
}

// AggregateRequirements merges per-line requirement maps so an ingredient
// shared by several menu products is checked once against its total. Pure.
func AggregateRequirements(lines []map[int]decimal.Decimal) map[int]decimal.Decimal {
	total := map[int]decimal.Decimal{}
	for _, line := range lines {
		for itemId, qty := range line {
			total[itemId] = total[itemId].Add(qty)
		}
	}
	return total
}

// SortedItemIds returns requirement keys ascending, the row-lock order.
func SortedItemIds(requirements map[int]decimal.Decimal) []int {
	ids := make([]int, 0, len(requirements))
	for id := range requirements {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// costPerServing prices one serving given per-ingredient average costs:
// ingredient total over the yield. Pure.
func costPerServing(recipe *Recipe, costs map[int]decimal.Decimal) decimal.Decimal {
	cost := decimal.Zero
	for _, ingredient := range recipe.Ingredients {
		cost = cost.Add(ingredient.Qty.Mul(costs[ingredient.ItemId]))
	}
	return cost.Div(recipe.servingSizeOrOne())
}

// CostPerServing prices one serving at current moving-average ingredient
// costs. Recosted live, never stored.
func CostPerServing(ctx context.Context, recipeId int) (decimal.Decimal, error) {
	recipe, err := GetRecipe(ctx, recipeId)
	if err != nil {
		return decimal.Zero, err
	}

	costs := make(map[int]decimal.Decimal, len(recipe.Ingredients))
	for _, ingredient := range recipe.Ingredients {
		item, err := GetInventoryItem(ctx, ingredient.ItemId)
		if err != nil {
			return decimal.Zero, err
		}
		costs[ingredient.ItemId] = item.AverageUnitCost
	}
	return costPerServing(recipe, costs), nil
}

// Shortage reports one ingredient that cannot cover a requested quantity.
type Shortage struct {
	ItemId    int             `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// CheckAvailability reports whether servings of a recipe could be deducted
// right now, with per-ingredient shortages. Read-only; the deduction workflow
// re-checks under row locks.
func CheckAvailability(ctx context.Context, recipeId int, servings decimal.Decimal) ([]Shortage, error) {
	if !servings.IsPositive() {
		return nil, &utils.InvalidQuantityError{Qty: servings, Reason: "servings must be positive"}
	}
	recipe, err := GetRecipe(ctx, recipeId)
	if err != nil {
		return nil, err
	}

	requirements := ResolveRecipeRequirements(recipe, servings)
	var shortages []Shortage
	for _, itemId := range SortedItemIds(requirements) {
		item, err := GetInventoryItem(ctx, itemId)
		if err != nil {
			return nil, err
		}
		required := requirements[itemId]
		if item.Quantity.Cmp(required) < 0 {
			shortages = append(shortages, Shortage{
				ItemId:    item.ID,
				ItemName:  item.Name,
				Required:  required,
				Available: item.Quantity,
			})
		}
	}
	return shortages, nil
}
