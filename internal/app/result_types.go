package app

import "warehouse-ledger/internal/core"

// ItemListResult is returned by ListItems.
type ItemListResult struct {
	Items []core.Item `json:"items"`
}

// LocationListResult is returned by ListLocations.
type LocationListResult struct {
	Locations []core.Location `json:"locations"`
}

// MovementListResult is returned by ListMovements.
type MovementListResult struct {
	Key       core.Key        `json:"key"`
	Movements []core.Movement `json:"movements"`
}

// RecipeListResult is returned by ListRecipes.
type RecipeListResult struct {
	Recipes []core.Recipe `json:"recipes"`
}

// PackingVariantListResult is returned by ListPackingVariants.
type PackingVariantListResult struct {
	Variants []core.PackingVariant `json:"variants"`
}

// SweepResult is returned by SweepExpired.
type SweepResult struct {
	Expired int `json:"expired"`
}

// SeedResult is returned by ApplySeed.
type SeedResult struct {
	Locations int `json:"locations"`
	Items     int `json:"items"`
	Recipes   int `json:"recipes"`
	Variants  int `json:"packing_variants"`
	Receipts  int `json:"receipts"`
}
