package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// writeModelError maps model-layer errors onto HTTP statuses. Stock shortage
// and validation failures are client errors; contention asks the caller to
// retry.
func writeModelError(c *gin.Context, err error) {
	var (
		insufficientStock *utils.InsufficientStockError
		insufficientBatch *utils.InsufficientBatchStockError
		invalidQty        *utils.InvalidQuantityError
		unitMismatch      *utils.UnitMismatchError
		validation        *utils.ValidationError
	)
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrConcurrencyContention):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &insufficientStock),
		errors.As(err, &insufficientBatch),
		errors.As(err, &invalidQty),
		errors.As(err, &unitMismatch),
		errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// --- business ---

func getBusinessHandler(c *gin.Context) {
	business, err := models.GetBusiness(c.Request.Context())
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, business)
}

// --- locations ---

func createLocationHandler(c *gin.Context) {
	var input models.NewLocation
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location, err := models.CreateLocation(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, location)
}

func updateLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewLocation
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location, err := models.UpdateLocation(c.Request.Context(), id, &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func deleteLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	location, err := models.DeleteLocation(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func listLocationsHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	locations, err := models.ListLocations(c.Request.Context(), name)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, locations)
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleActiveLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location, err := models.ToggleActiveLocation(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

// --- inventory items ---

func createInventoryItemHandler(c *gin.Context) {
	var input models.NewInventoryItem
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := models.CreateInventoryItem(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func updateInventoryItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewInventoryItem
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := models.UpdateInventoryItem(c.Request.Context(), id, &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func deleteInventoryItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	item, err := models.DeleteInventoryItem(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func getInventoryItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	item, err := models.GetInventoryItem(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func listInventoryItemsHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	var locationId *int
	if v := c.Query("location_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_id"})
			return
		}
		locationId = &n
	}
	var needsRestock *bool
	if v := c.Query("needs_restock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid needs_restock"})
			return
		}
		needsRestock = &b
	}
	items, err := models.ListInventoryItems(c.Request.Context(), name, locationId, needsRestock)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func toggleActiveInventoryItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := models.ToggleActiveInventoryItem(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type adjustInventoryRequest struct {
	Delta     decimal.Decimal        `json:"delta"`
	EntryType models.LedgerEntryType `json:"entry_type" binding:"required"`
	UnitCost  decimal.Decimal        `json:"unit_cost"`
	Reason    string                 `json:"reason"`
	StockDate *time.Time             `json:"stock_date"`
}

func adjustInventoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req adjustInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	stockDate := time.Now().UTC()
	if req.StockDate != nil {
		stockDate = *req.StockDate
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	entry, err := models.AdjustInventory(ctx, id, models.AdjustStockInput{
		Delta:         req.Delta,
		EntryType:     req.EntryType,
		UnitCost:      req.UnitCost,
		ReferenceType: models.StockReferenceTypeAdjustment,
		Reference:     req.Reason,
		StockDate:     stockDate,
		ActorId:       userId,
		ActorName:     userName,
		CorrelationId: correlationId,
	})
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func listLedgerEntriesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var entryType *models.LedgerEntryType
	if v := c.Query("entry_type"); v != "" {
		t := models.LedgerEntryType(v)
		entryType = &t
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := models.ListLedgerEntries(c.Request.Context(), id, entryType, limit)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// --- batches ---

func listBatchesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var status *models.BatchStatus
	if v := c.Query("status"); v != "" {
		s := models.BatchStatus(v)
		status = &s
	}
	batches, err := models.ListBatches(c.Request.Context(), id, status)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

type disposeBatchRequest struct {
	Method models.DisposalMethod `json:"method" binding:"required"`
	Notes  string                `json:"notes"`
}

func disposeBatchHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req disposeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batch, err := models.DisposeBatch(c.Request.Context(), id, req.Method, req.Notes)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// --- recipes ---

func createRecipeHandler(c *gin.Context) {
	var input models.NewRecipe
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipe, err := models.CreateRecipe(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recipe)
}

func updateRecipeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewRecipe
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipe, err := models.UpdateRecipe(c.Request.Context(), id, &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

func deleteRecipeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	recipe, err := models.DeleteRecipe(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

func getRecipeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	recipe, err := models.GetRecipe(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

func listRecipesHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	recipes, err := models.ListRecipes(c.Request.Context(), name)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipes)
}

func toggleActiveRecipeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipe, err := models.ToggleActiveRecipe(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

func recipeCostHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	cost, err := models.CostPerServing(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe_id": id, "cost_per_serving": cost})
}

func recipeAvailabilityHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	servings := decimal.NewFromInt(1)
	if v := c.Query("servings"); v != "" {
		s, err := decimal.NewFromString(v)
		if err != nil || !s.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid servings"})
			return
		}
		servings = s
	}
	shortages, err := models.CheckAvailability(c.Request.Context(), id, servings)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recipe_id": id,
		"servings":  servings,
		"available": len(shortages) == 0,
		"shortages": shortages,
	})
}

// --- purchase orders ---

func createPurchaseOrderHandler(c *gin.Context) {
	var input models.NewPurchaseOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

func receivePurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	po, err := models.ReceivePurchaseOrder(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func cancelPurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	po, err := models.CancelPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	po, err := models.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func listPurchaseOrdersHandler(c *gin.Context) {
	var status *models.PurchaseOrderStatus
	if v := c.Query("status"); v != "" {
		s := models.PurchaseOrderStatus(v)
		status = &s
	}
	orders, err := models.ListPurchaseOrders(c.Request.Context(), status)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// --- transfer orders ---

func createTransferOrderHandler(c *gin.Context) {
	var input models.NewTransferOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	transfer, err := models.CreateTransferOrder(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	// 202: the stock movement itself posts asynchronously in the worker.
	c.JSON(http.StatusAccepted, transfer)
}

func getTransferOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	transfer, err := models.GetTransferOrder(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

func listTransferOrdersHandler(c *gin.Context) {
	var status *models.TransferOrderStatus
	if v := c.Query("status"); v != "" {
		s := models.TransferOrderStatus(v)
		status = &s
	}
	transfers, err := models.ListTransferOrders(c.Request.Context(), status)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfers)
}

// --- order deductions ---

func submitOrderDeductionHandler(c *gin.Context) {
	var input models.OrderDeductionRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deduction, err := models.SubmitOrderDeduction(c.Request.Context(), &input)
	if err != nil {
		writeModelError(c, err)
		return
	}
	// 202: deduction posts asynchronously; poll the deduction status for the
	// outcome and the skipped-products report.
	c.JSON(http.StatusAccepted, deduction)
}

func getOrderDeductionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	deduction, err := models.GetOrderDeduction(c.Request.Context(), id)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, deduction)
}

func listOrderDeductionsHandler(c *gin.Context) {
	var status *models.OrderDeductionStatus
	if v := c.Query("status"); v != "" {
		s := models.OrderDeductionStatus(v)
		status = &s
	}
	deductions, err := models.ListOrderDeductions(c.Request.Context(), status)
	if err != nil {
		writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, deductions)
}
