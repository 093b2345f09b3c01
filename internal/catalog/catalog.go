package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gpt-relay/internal/config"
	"gpt-relay/internal/models"
)

// Catalog resolves client model names to upstream model identifiers. It is
// immutable after construction and safe for concurrent use.
type Catalog struct {
	defaultModel     string
	webSearchDefault string
	aliases          map[string]string
	noWebSearch      map[string]struct{}
	available        []models.Model
}

// New constructs a catalog from the models section of the configuration.
func New(cfg config.ModelsConfig) (*Catalog, error) {
	if strings.TrimSpace(cfg.Default) == "" {
		return nil, errors.New("default model must not be empty")
	}
	if strings.TrimSpace(cfg.WebSearchDefault) == "" {
		return nil, errors.New("web search default model must not be empty")
	}

	c := &Catalog{
		defaultModel:     cfg.Default,
		webSearchDefault: cfg.WebSearchDefault,
		aliases:          make(map[string]string, len(cfg.Aliases)),
		noWebSearch:      make(map[string]struct{}, len(cfg.NoWebSearch)),
		available:        make([]models.Model, len(cfg.Available)),
	}
	copy(c.available, cfg.Available)

	for alias, target := range cfg.Aliases {
		if _, chained := cfg.Aliases[target]; chained && target != alias {
			return nil, fmt.Errorf("alias %q references another alias %q", alias, target)
		}
		c.aliases[alias] = target
	}
	for _, id := range cfg.NoWebSearch {
		c.noWebSearch[id] = struct{}{}
	}

	if !c.SupportsWebSearch(c.lookup(c.webSearchDefault)) {
		return nil, fmt.Errorf("web search default %q does not support web search", c.webSearchDefault)
	}
	return c, nil
}

// DefaultModel returns the model used when a request names none.
func (c *Catalog) DefaultModel() string {
	return c.defaultModel
}

// Models returns the static list of models offered to clients.
func (c *Catalog) Models() []models.Model {
	result := make([]models.Model, len(c.available))
	copy(result, c.available)
	return result
}

// SupportsWebSearch reports whether the upstream model id can run the web
// search tool.
func (c *Catalog) SupportsWebSearch(modelID string) bool {
	_, unsupported := c.noWebSearch[modelID]
	return !unsupported
}

// Resolve maps requested (or defaultModel when empty) to an upstream model.
// Unknown names pass through unchanged. When wantWebSearch is set and the
// model cannot search, the web search default replaces it.
func (c *Catalog) Resolve(requested, defaultModel string, wantWebSearch bool) models.ResolvedModel {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = defaultModel
	}
	if name == "" {
		name = c.defaultModel
	}

	effective := c.lookup(name)
	resolved := models.ResolvedModel{
		Requested:        name,
		Effective:        effective,
		WebSearchCapable: c.SupportsWebSearch(effective),
	}

	if wantWebSearch && !resolved.WebSearchCapable {
		substitute := c.lookup(c.webSearchDefault)
		resolved = models.ResolvedModel{
			Requested:        substitute,
			Effective:        substitute,
			WebSearchCapable: true,
			Substituted:      true,
			Original:         name,
		}
	}
	return resolved
}

func (c *Catalog) lookup(name string) string {
	if target, ok := c.aliases[name]; ok {
		return target
	}
	return name
}
