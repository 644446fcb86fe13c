package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveRecipeRequirementsScalesByServings(t *testing.T) {
	recipe := &Recipe{
		ID:   1,
		Name: "Fried Rice",
		Ingredients: []RecipeIngredient{
			{ItemId: 10, Qty: d("0.2")},
			{ItemId: 11, Qty: d("0.05")},
		},
	}

	got := ResolveRecipeRequirements(recipe, decimal.NewFromInt(3))
	if len(got) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(got))
	}
	if !got[10].Equal(d("0.6")) {
		t.Fatalf("item 10: expected 0.6, got %s", got[10])
	}
	if !got[11].Equal(d("0.15")) {
		t.Fatalf("item 11: expected 0.15, got %s", got[11])
	}
}

func TestCostPerServingDividesByServingSize(t *testing.T) {
	// A pot of broth costed as one preparation yielding 10 servings:
	// 2kg bones at 3.00 plus 0.5kg onion at 2.00 is 7.00 for the pot.
	recipe := &Recipe{
		ID:          2,
		Name:        "Bone Broth",
		ServingSize: d("10"),
		Ingredients: []RecipeIngredient{
			{ItemId: 20, Qty: d("2")},
			{ItemId: 21, Qty: d("0.5")},
		},
	}
	costs := map[int]decimal.Decimal{
		20: d("3"),
		21: d("2"),
	}

	if got := costPerServing(recipe, costs); !got.Equal(d("0.7")) {
		t.Fatalf("cost per serving: expected 0.7, got %s", got)
	}

	// Rows from before the column existed cost as a single serving.
	recipe.ServingSize = decimal.Zero
	if got := costPerServing(recipe, costs); !got.Equal(d("7")) {
		t.Fatalf("legacy recipe cost: expected 7, got %s", got)
	}
}

func TestAggregateRequirementsSumsSharedIngredients(t *testing.T) {
	// Two order lines both use item 10 (rice); one adds item 12 (egg).
	lines := []map[int]decimal.Decimal{
		{10: d("0.6"), 11: d("0.15")},
		{10: d("0.4"), 12: d("2")},
	}

	got := AggregateRequirements(lines)
	if len(got) != 3 {
		t.Fatalf("expected 3 aggregated items, got %d", len(got))
	}
	if !got[10].Equal(d("1")) {
		t.Fatalf("item 10: expected 1, got %s", got[10])
	}
	if !got[11].Equal(d("0.15")) {
		t.Fatalf("item 11: expected 0.15, got %s", got[11])
	}
	if !got[12].Equal(d("2")) {
		t.Fatalf("item 12: expected 2, got %s", got[12])
	}
}

func TestSortedItemIdsAscending(t *testing.T) {
	// Deduction and transfer workflows lock item rows in ascending id order;
	// a stable order across concurrent workers prevents lock cycles.
	requirements := map[int]decimal.Decimal{
		42: d("1"),
		7:  d("2"),
		19: d("3"),
	}
	got := SortedItemIds(requirements)
	want := []int{7, 19, 42}
	if len(got) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
