package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brewline/api/internal/repositories"
)

const defaultRecipeCacheTTL = 5 * time.Minute

var (
	// ErrRecipeInvalidInput signals a blank catalog item id.
	ErrRecipeInvalidInput = errors.New("recipe: invalid input")
	// ErrRecipeRepositoryUnavailable indicates the BOM store could not be reached.
	ErrRecipeRepositoryUnavailable = errors.New("recipe: repository unavailable")
)

// RecipeCache stores encoded bills of materials. A miss returns ok=false with a nil error.
type RecipeCache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RecipeServiceDeps bundles collaborators required to construct the recipe service.
type RecipeServiceDeps struct {
	Recipes  repositories.RecipeRepository
	Cache    RecipeCache
	CacheTTL time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type recipeService struct {
	recipes  repositories.RecipeRepository
	cache    RecipeCache
	cacheTTL time.Duration
	logger   func(context.Context, string, map[string]any)
}

var _ RecipeService = (*recipeService)(nil)

// NewRecipeService constructs the BOM lookup. Cache is optional; cache failures fall back to the repository.
func NewRecipeService(deps RecipeServiceDeps) (RecipeService, error) {
	if deps.Recipes == nil {
		return nil, errors.New("recipe service: recipe repository is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultRecipeCacheTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &recipeService{
		recipes:  deps.Recipes,
		cache:    deps.Cache,
		cacheTTL: ttl,
		logger:   logger,
	}, nil
}

func (s *recipeService) Components(ctx context.Context, catalogItemID string) ([]RecipeComponent, error) {
	catalogItemID = strings.TrimSpace(catalogItemID)
	if catalogItemID == "" {
		return nil, fmt.Errorf("%w: catalog item id is required", ErrRecipeInvalidInput)
	}

	key := recipeCacheKey(catalogItemID)
	if s.cache != nil {
		if components, ok := s.readCache(ctx, key); ok {
			return components, nil
		}
	}

	components, err := s.recipes.ListComponents(ctx, catalogItemID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			if repoErr.IsNotFound() {
				return []RecipeComponent{}, nil
			}
			if repoErr.IsUnavailable() {
				return nil, fmt.Errorf("%w: %v", ErrRecipeRepositoryUnavailable, err)
			}
		}
		return nil, err
	}
	if components == nil {
		components = []RecipeComponent{}
	}

	if s.cache != nil {
		s.writeCache(ctx, key, components)
	}
	return components, nil
}

func (s *recipeService) readCache(ctx context.Context, key string) ([]RecipeComponent, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger(ctx, "recipe.cache.read.failed", map[string]any{"key": key, "error": err.Error()})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var components []RecipeComponent
	if err := json.Unmarshal(raw, &components); err != nil {
		s.logger(ctx, "recipe.cache.decode.failed", map[string]any{"key": key, "error": err.Error()})
		return nil, false
	}
	if components == nil {
		components = []RecipeComponent{}
	}
	return components, true
}

func (s *recipeService) writeCache(ctx context.Context, key string, components []RecipeComponent) {
	raw, err := json.Marshal(components)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger(ctx, "recipe.cache.write.failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func recipeCacheKey(catalogItemID string) string {
	return "recipe:" + catalogItemID
}
