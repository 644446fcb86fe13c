package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
	"bitbucket.org/mmdatafocus/hotel_backend/workflow"
)

// End-to-end posting flow against real MySQL + Redis:
// receive a purchase order into batches, deduct a POS order through recipes,
// and verify the ledger, the moving-average cost, and the skipped-products
// report. The outbox records are processed inline the way the worker does it.
func TestOrderDeductionFlowPostsLedgerAndSkipsRecipelessProducts(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "hotel_backend_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Hotel",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	kitchen, err := models.CreateLocation(ctx, &models.NewLocation{Name: "Main Kitchen"})
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}

	// Batch-tracked consumable: rice in kg.
	rice, err := models.CreateInventoryItem(ctx, &models.NewInventoryItem{
		Name:           "Jasmine Rice",
		Sku:            "RICE-001",
		Unit:           models.UnitKilogram,
		Kind:           models.ItemKindConsumable,
		LocationId:     kitchen.ID,
		MinimumStock:   decimal.NewFromInt(5),
		IsBatchTracked: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateInventoryItem rice: %v", err)
	}

	// Receive 20 kg at 2.50 via purchase order.
	expiry := time.Now().UTC().AddDate(0, 2, 0)
	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber:  "PO-1001",
		SupplierName: "Golden Grains",
		Details: []models.NewPurchaseOrderDetail{
			{ItemId: rice.ID, Qty: decimal.NewFromInt(20), UnitCost: decimal.NewFromFloat(2.5), ExpiryDate: &expiry},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	if _, err := models.ReceivePurchaseOrder(ctx, po.ID); err != nil {
		t.Fatalf("ReceivePurchaseOrder: %v", err)
	}
	processOutboxRecord(t, ctx, db, biz.ID, models.StockReferenceTypePurchaseOrder, po.ID)

	rice, err = models.GetInventoryItem(ctx, rice.ID)
	if err != nil {
		t.Fatalf("reload rice: %v", err)
	}
	if !rice.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("rice quantity after receipt: expected 20, got %s", rice.Quantity)
	}
	if !rice.AverageUnitCost.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("rice avg cost after receipt: expected 2.5, got %s", rice.AverageUnitCost)
	}
	batches, err := models.ListBatches(ctx, rice.ID, nil)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 || !batches[0].Quantity.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected one batch of 20, got %+v", batches)
	}
	po, err = models.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload purchase order: %v", err)
	}
	if po.Details[0].BatchNumber == "" || po.Details[0].BatchNumber != batches[0].BatchNumber {
		t.Fatalf("order line should record the created batch number %q, got %q",
			batches[0].BatchNumber, po.Details[0].BatchNumber)
	}

	// Recipe: one serving of fried rice uses 0.4 kg.
	recipe, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:       "Fried Rice",
		ProductRef: "POS-FRIED-RICE",
		Ingredients: []models.NewRecipeIngredient{
			{ItemId: rice.ID, Qty: decimal.NewFromFloat(0.4)},
		},
	})
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}

	cost, err := models.CostPerServing(ctx, recipe.ID)
	if err != nil {
		t.Fatalf("CostPerServing: %v", err)
	}
	if !cost.Equal(decimal.NewFromInt(1)) { // 0.4 kg * 2.50
		t.Fatalf("cost per serving: expected 1, got %s", cost)
	}

	shortages, err := models.CheckAvailability(ctx, recipe.ID, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if len(shortages) != 0 {
		t.Fatalf("expected no shortages for 5 servings, got %+v", shortages)
	}

	// POS order: 5 servings of fried rice plus a bought-in soda with no recipe.
	deduction, err := models.SubmitOrderDeduction(ctx, &models.OrderDeductionRequest{
		OrderRef: "ORD-5001",
		Lines: []models.OrderDeductionLine{
			{ProductRef: "POS-FRIED-RICE", Servings: decimal.NewFromInt(5)},
			{ProductRef: "POS-SODA", Servings: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("SubmitOrderDeduction: %v", err)
	}
	processOutboxRecord(t, ctx, db, biz.ID, models.StockReferenceTypeOrder, deduction.ID)

	deduction, err = models.GetOrderDeduction(ctx, deduction.ID)
	if err != nil {
		t.Fatalf("GetOrderDeduction: %v", err)
	}
	if deduction.Status != models.OrderDeductionStatusCompleted {
		t.Fatalf("deduction status: expected COMPLETED, got %s", deduction.Status)
	}
	var skipped []string
	if err := json.Unmarshal(deduction.SkippedProducts, &skipped); err != nil {
		t.Fatalf("unmarshal skipped products: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "POS-SODA" {
		t.Fatalf("expected POS-SODA skipped, got %v", skipped)
	}

	rice, err = models.GetInventoryItem(ctx, rice.ID)
	if err != nil {
		t.Fatalf("reload rice: %v", err)
	}
	if !rice.Quantity.Equal(decimal.NewFromInt(18)) { // 20 - 5*0.4
		t.Fatalf("rice quantity after deduction: expected 18, got %s", rice.Quantity)
	}

	entries, err := models.ListLedgerEntries(ctx, rice.ID, nil, 10)
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries (receipt + usage), got %d", len(entries))
	}
	// Newest first: the usage entry closes at 18 and names the batch it drained.
	usage := entries[0]
	if usage.EntryType != models.LedgerEntryTypeUsage {
		t.Fatalf("newest entry should be usage, got %s", usage.EntryType)
	}
	if !usage.ClosingQty.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("usage closing qty: expected 18, got %s", usage.ClosingQty)
	}
	if usage.BatchNumber == "" {
		t.Fatalf("usage entry should carry the consumed batch number")
	}
	if usage.Sequence != 2 {
		t.Fatalf("usage sequence: expected 2, got %d", usage.Sequence)
	}

	// Second order exceeds stock: all-or-nothing must leave quantities alone.
	bigOrder, err := models.SubmitOrderDeduction(ctx, &models.OrderDeductionRequest{
		OrderRef: "ORD-5002",
		Lines: []models.OrderDeductionLine{
			{ProductRef: "POS-FRIED-RICE", Servings: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("SubmitOrderDeduction big: %v", err)
	}
	processOutboxRecord(t, ctx, db, biz.ID, models.StockReferenceTypeOrder, bigOrder.ID)

	bigOrder, err = models.GetOrderDeduction(ctx, bigOrder.ID)
	if err != nil {
		t.Fatalf("GetOrderDeduction big: %v", err)
	}
	if bigOrder.Status != models.OrderDeductionStatusFailed {
		t.Fatalf("big order status: expected FAILED, got %s", bigOrder.Status)
	}
	if bigOrder.FailReason == nil || !strings.Contains(*bigOrder.FailReason, "insufficient stock") {
		t.Fatalf("big order should record a shortage reason, got %v", bigOrder.FailReason)
	}

	rice, err = models.GetInventoryItem(ctx, rice.ID)
	if err != nil {
		t.Fatalf("reload rice: %v", err)
	}
	if !rice.Quantity.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("failed order must not move stock: expected 18, got %s", rice.Quantity)
	}

	// Resubmitting the same order ref returns the original outcome.
	again, err := models.SubmitOrderDeduction(ctx, &models.OrderDeductionRequest{
		OrderRef: "ORD-5001",
		Lines: []models.OrderDeductionLine{
			{ProductRef: "POS-FRIED-RICE", Servings: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ID != deduction.ID {
		t.Fatalf("resubmit should return the original deduction (id %d), got %d", deduction.ID, again.ID)
	}

	// Receiving failure: the item gets reconfigured to batch-tracked between
	// receive and posting, so the replayed receipt is permanently invalid.
	// The order must flip to FAILED instead of standing as received stock
	// with no batches behind it.
	oil, err := models.CreateInventoryItem(ctx, &models.NewInventoryItem{
		Name:         "Olive Oil",
		Sku:          "OIL-001",
		Unit:         models.UnitLiter,
		Kind:         models.ItemKindConsumable,
		LocationId:   kitchen.ID,
		MinimumStock: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("CreateInventoryItem oil: %v", err)
	}
	oilPO, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber:  "PO-1002",
		SupplierName: "Golden Grains",
		Details: []models.NewPurchaseOrderDetail{
			{ItemId: oil.ID, Qty: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder oil: %v", err)
	}
	if _, err := models.ReceivePurchaseOrder(ctx, oilPO.ID); err != nil {
		t.Fatalf("ReceivePurchaseOrder oil: %v", err)
	}
	err = db.Model(&models.InventoryItem{}).Where("id = ?", oil.ID).
		Update("is_batch_tracked", true).Error
	if err != nil {
		t.Fatalf("reconfigure oil to batch-tracked: %v", err)
	}
	processOutboxRecord(t, ctx, db, biz.ID, models.StockReferenceTypePurchaseOrder, oilPO.ID)

	oilPO, err = models.GetPurchaseOrder(ctx, oilPO.ID)
	if err != nil {
		t.Fatalf("reload oil purchase order: %v", err)
	}
	if oilPO.Status != models.PurchaseOrderStatusFailed {
		t.Fatalf("invalid receipt should fail the order, got %s", oilPO.Status)
	}
	if oilPO.FailReason == nil || !strings.Contains(*oilPO.FailReason, "expiry_date") {
		t.Fatalf("failed order should record the validation reason, got %v", oilPO.FailReason)
	}
	oil, err = models.GetInventoryItem(ctx, oil.ID)
	if err != nil {
		t.Fatalf("reload oil: %v", err)
	}
	if !oil.Quantity.IsZero() {
		t.Fatalf("failed receipt must not move stock, got %s", oil.Quantity)
	}
}

// processOutboxRecord runs the worker path inline for the newest outbox record
// of the given reference, inside one transaction like ProcessMessage does.
func processOutboxRecord(t *testing.T, ctx context.Context, db *gorm.DB, businessId string, refType models.StockReferenceType, refId int) {
	t.Helper()

	var record models.InventoryEventRecord
	err := db.Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, refType, refId).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		t.Fatalf("load outbox record (%s %d): %v", refType, refId, err)
	}

	msg := models.ConvertToPubSubMessage(record)
	logger := config.GetLogger()
	err = db.Transaction(func(tx *gorm.DB) error {
		switch msg.ReferenceType {
		case string(models.StockReferenceTypeOrder):
			return workflow.ProcessOrderDeductionWorkflow(tx.WithContext(ctx), logger, msg)
		case string(models.StockReferenceTypePurchaseOrder):
			return workflow.ProcessReceivingWorkflow(tx.WithContext(ctx), logger, msg)
		case string(models.StockReferenceTypeTransfer):
			return workflow.ProcessTransferWorkflow(tx.WithContext(ctx), logger, msg)
		}
		return fmt.Errorf("unhandled reference type %s", msg.ReferenceType)
	})
	if err != nil {
		t.Fatalf("process outbox record (%s %d): %v", refType, refId, err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hotel-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hotel-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=hotel_backend_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
