package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecipeRegistry stores technological cards. At most one recipe per output item is active;
// registering an active recipe retires the previous one. Deactivation never touches batches
// already started from a recipe.
type RecipeRegistry interface {
	Register(ctx context.Context, req RegisterRecipeRequest) (*Recipe, error)
	Deactivate(ctx context.Context, recipeID string) error
	GetActiveRecipe(ctx context.Context, outputItemID string) (*Recipe, error)
	GetRecipe(ctx context.Context, recipeID string) (*Recipe, error)
	ListRecipes(ctx context.Context) ([]Recipe, error)
}

// RegisterRecipeRequest describes a new recipe. ID is generated when empty.
type RegisterRecipeRequest struct {
	ID             string
	Name           string
	OutputItemID   string
	OutputQuantity decimal.Decimal
	Inputs         []RecipeInput
	Inactive       bool
}

type recipeRegistry struct {
	store CatalogStore
	clock Clock
}

func NewRecipeRegistry(store CatalogStore, clock Clock) RecipeRegistry {
	return &recipeRegistry{store: store, clock: clock}
}

func (r *recipeRegistry) Register(ctx context.Context, req RegisterRecipeRequest) (*Recipe, error) {
	if err := r.validate(ctx, req); err != nil {
		return nil, err
	}
	recipe := Recipe{
		ID:             req.ID,
		Name:           req.Name,
		OutputItemID:   req.OutputItemID,
		OutputQuantity: req.OutputQuantity,
		Inputs:         append([]RecipeInput(nil), req.Inputs...),
		Active:         !req.Inactive,
		CreatedAt:      r.clock.now(),
	}
	if recipe.ID == "" {
		recipe.ID = uuid.NewString()
	}
	if recipe.Name == "" {
		recipe.Name = recipe.OutputItemID
	}
	if err := r.store.PutRecipe(ctx, recipe); err != nil {
		return nil, fmt.Errorf("failed to register recipe for %s: %w", recipe.OutputItemID, err)
	}
	return &recipe, nil
}

func (r *recipeRegistry) validate(ctx context.Context, req RegisterRecipeRequest) error {
	if req.OutputItemID == "" {
		return invalidArg("recipe output item is required")
	}
	if !req.OutputQuantity.IsPositive() {
		return invalidArg("recipe output quantity must be positive")
	}
	if err := checkPlaces("recipe output quantity", req.OutputQuantity); err != nil {
		return err
	}
	if len(req.Inputs) == 0 {
		return invalidArg("recipe for %s has no inputs", req.OutputItemID)
	}
	if _, err := r.store.Item(ctx, req.OutputItemID); err != nil {
		return lookupErr("item", req.OutputItemID, err)
	}
	seen := make(map[string]bool, len(req.Inputs))
	for i, in := range req.Inputs {
		switch {
		case in.ItemID == "":
			return invalidArg("recipe input %d has no item", i+1)
		case in.ItemID == req.OutputItemID:
			return invalidArg("recipe output %s cannot also be an input", in.ItemID)
		case seen[in.ItemID]:
			return invalidArg("recipe input %s listed twice", in.ItemID)
		case !in.Quantity.IsPositive():
			return invalidArg("recipe input %s quantity must be positive", in.ItemID)
		}
		if err := checkPlaces("recipe input "+in.ItemID+" quantity", in.Quantity); err != nil {
			return err
		}
		seen[in.ItemID] = true
		if _, err := r.store.Item(ctx, in.ItemID); err != nil {
			return lookupErr("item", in.ItemID, err)
		}
	}
	return nil
}

func (r *recipeRegistry) Deactivate(ctx context.Context, recipeID string) error {
	if err := r.store.DeactivateRecipe(ctx, recipeID); err != nil {
		return lookupErr("recipe", recipeID, err)
	}
	return nil
}

func (r *recipeRegistry) GetActiveRecipe(ctx context.Context, outputItemID string) (*Recipe, error) {
	rec, err := r.store.ActiveRecipe(ctx, outputItemID)
	if err != nil {
		return nil, lookupErr("active recipe for", outputItemID, err)
	}
	return rec, nil
}

func (r *recipeRegistry) GetRecipe(ctx context.Context, recipeID string) (*Recipe, error) {
	rec, err := r.store.Recipe(ctx, recipeID)
	if err != nil {
		return nil, lookupErr("recipe", recipeID, err)
	}
	return rec, nil
}

func (r *recipeRegistry) ListRecipes(ctx context.Context) ([]Recipe, error) {
	recs, err := r.store.Recipes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recs, nil
}

// inputRequirement scales a per-unit input to the requested output quantity, rounded up
// to the stored precision so an input is never under-reserved.
func inputRequirement(rec *Recipe, in RecipeInput, output decimal.Decimal) decimal.Decimal {
	return in.Quantity.Mul(output).Div(rec.OutputQuantity).RoundUp(QuantityPlaces)
}

// outputCovered is the largest output, at stored precision, that available units of
// input in cover. inputRequirement of the result never exceeds available.
func outputCovered(rec *Recipe, in RecipeInput, available decimal.Decimal) decimal.Decimal {
	if !available.IsPositive() {
		return decimal.Zero
	}
	out := available.Mul(rec.OutputQuantity).Div(in.Quantity).Truncate(QuantityPlaces)
	// Div rounds at its own precision; step back if that tipped the requirement over.
	if inputRequirement(rec, in, out).GreaterThan(available) {
		out = out.Sub(decimal.New(1, -QuantityPlaces))
	}
	return out
}
