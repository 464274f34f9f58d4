// Package pages exposes dashboard page management to the assistant.
package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

// Layout is the page grid.
type Layout struct {
	Cols int `json:"cols,omitempty" jsonschema_description:"Number of grid columns (default 12)"`
	Gap  int `json:"gap,omitempty" jsonschema_description:"Grid gap size (default 4)"`
}

// Widget places one dashboard component on the grid.
type Widget struct {
	ID       string         `json:"id"`
	Type     string         `json:"type" jsonschema:"enum=LiveLeadPreview,enum=AmoCRMAnalytics,enum=MoizvonkiAnalytics,enum=TaritiGPTPrompt,enum=MessageLog,enum=LeadTimeline,enum=CustomHTML"`
	ColSpan  int            `json:"colSpan" jsonschema:"minimum=1,maximum=12"`
	RowSpan  int            `json:"rowSpan,omitempty" jsonschema:"minimum=1"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Config is the stored page configuration.
type Config struct {
	Layout  *Layout  `json:"layout,omitempty"`
	Widgets []Widget `json:"widgets"`
}

// DefaultConfig is an empty twelve column page.
func DefaultConfig() Config {
	return Config{Layout: &Layout{Cols: 12, Gap: 4}, Widgets: []Widget{}}
}

func (c Config) normalized() Config {
	if c.Layout != nil {
		layout := *c.Layout
		if layout.Cols == 0 {
			layout.Cols = 12
		}
		if layout.Gap == 0 {
			layout.Gap = 4
		}
		c.Layout = &layout
	}
	if c.Widgets == nil {
		c.Widgets = []Widget{}
	}
	return c
}

// ListInput is the input of list_pages.
type ListInput struct {
	PublishedOnly bool `json:"published_only,omitempty" jsonschema_description:"If true, only return published pages. Defaults to false (returns all pages)."`
}

// GetInput is the input of get_page.
type GetInput struct {
	Slug string `json:"slug" jsonschema_description:"The URL slug of the page (e.g. \"dashboard\", \"leads-overview\")"`
}

// CreateInput is the input of create_page. Slug defaults to a slug of
// Title and Published defaults to true.
type CreateInput struct {
	Title       string  `json:"title" jsonschema_description:"Human-readable page title"`
	Slug        string  `json:"slug,omitempty" jsonschema_description:"URL-safe slug (lowercase, hyphens only). Auto-generated from title if omitted."`
	Description *string `json:"description,omitempty" jsonschema_description:"Optional description of what this page shows"`
	Published   *bool   `json:"published,omitempty" jsonschema_description:"Whether to publish the page immediately (shows in sidebar). Defaults to true."`
	Config      Config  `json:"config" jsonschema_description:"Page layout config with widgets array"`
}

// UpdateInput is the input of update_page. Nil fields are left unchanged.
type UpdateInput struct {
	Slug        string  `json:"slug" jsonschema_description:"The slug of the page to update"`
	Title       *string `json:"title,omitempty" jsonschema_description:"New title (optional)"`
	Description *string `json:"description,omitempty" jsonschema_description:"New description (optional)"`
	Published   *bool   `json:"published,omitempty" jsonschema_description:"New published status (optional)"`
	Config      *Config `json:"config,omitempty" jsonschema_description:"New page config (optional, replaces existing config entirely)"`
}

// DeleteInput is the input of delete_page.
type DeleteInput struct {
	Slug string `json:"slug" jsonschema_description:"The slug of the page to delete"`
}

// Summary is the list projection of a page.
type Summary struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Service implements the page tools over a PageStore.
type Service struct {
	store  storage.PageStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the page tools over store.
func NewService(store storage.PageStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger.With("tool_group", "pages"), now: time.Now}
}

// Tools returns list_pages, get_page, create_page, update_page and
// delete_page.
func (s *Service) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("list_pages", "List all dashboard pages. Returns id, slug, title, description, published status, and creation date for each page.", s.List),
		tools.New("get_page", "Get a specific dashboard page by its slug, including the full widget configuration.", s.Get),
		tools.New("create_page", "Create a new dashboard page with a custom widget layout. The page will be accessible at /pages/{slug}.", s.Create),
		tools.New("update_page", "Update an existing dashboard page. You can change the title, description, published status, or the full widget configuration.", s.Update),
		tools.New("delete_page", "Permanently delete a dashboard page. This cannot be undone.", s.Delete),
	}
}

// List returns page summaries without their configs.
func (s *Service) List(ctx context.Context, in ListInput, _ tools.Caller) (any, error) {
	list, err := s.store.ListPages(ctx, in.PublishedOnly)
	if err != nil {
		return nil, tools.Failf("Failed to fetch pages: %v", err)
	}
	pages := make([]Summary, 0, len(list))
	for _, p := range list {
		pages = append(pages, Summary{
			ID:          p.ID,
			Slug:        p.Slug,
			Title:       p.Title,
			Description: p.Description,
			Published:   p.Published,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return map[string]any{"pages": pages, "count": len(pages)}, nil
}

// Get returns one page with its full config.
func (s *Service) Get(ctx context.Context, in GetInput, _ tools.Caller) (any, error) {
	page, err := s.store.GetPage(ctx, in.Slug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tools.Failf("Page with slug %q not found", in.Slug)
	}
	if err != nil {
		return nil, tools.Failf("Failed to fetch page: %v", err)
	}
	return map[string]any{"page": page}, nil
}

// Create validates the config and inserts a page owned by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput, caller tools.Caller) (any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled Page"
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		slug = fmt.Sprintf("page-%d", s.now().UnixMilli())
	}

	config, err := json.Marshal(in.Config.normalized())
	if err != nil {
		return nil, tools.Failf("Failed to create page: encode config: %v", err)
	}
	published := true
	if in.Published != nil {
		published = *in.Published
	}

	page := &models.Page{
		ID:          uuid.NewString(),
		Slug:        slug,
		Title:       title,
		Description: in.Description,
		Creator:     caller.UserID,
		Config:      config,
		Published:   published,
	}
	if err := s.store.CreatePage(ctx, page); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, tools.Failf("Failed to create page: a page with slug %q already exists", slug)
		}
		return nil, tools.Failf("Failed to create page: %v", err)
	}
	s.logger.Info("page created", "slug", page.Slug, "user_id", caller.UserID, "widgets", len(in.Config.Widgets))
	return map[string]any{
		"page":    page,
		"url":     "/pages/" + page.Slug,
		"message": fmt.Sprintf("Page %q created at /pages/%s", page.Title, page.Slug),
	}, nil
}

// Update patches a page the caller owns.
func (s *Service) Update(ctx context.Context, in UpdateInput, caller tools.Caller) (any, error) {
	update := storage.PageUpdate{
		Title:       in.Title,
		Description: in.Description,
		Published:   in.Published,
	}
	if in.Config != nil {
		config, err := json.Marshal(in.Config.normalized())
		if err != nil {
			return nil, tools.Failf("Failed to update page: encode config: %v", err)
		}
		update.Config = config
	}
	page, err := s.store.UpdatePage(ctx, in.Slug, caller.UserID, update)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tools.Failf("Failed to update page: no page %q owned by you", in.Slug)
	}
	if err != nil {
		return nil, tools.Failf("Failed to update page: %v", err)
	}
	s.logger.Info("page updated", "slug", page.Slug, "user_id", caller.UserID)
	return map[string]any{
		"page":    page,
		"message": fmt.Sprintf("Page %q updated successfully", page.Title),
	}, nil
}

// Delete removes a page owned by the caller. Deleting a page that does not
// exist or belongs to someone else is not an error.
func (s *Service) Delete(ctx context.Context, in DeleteInput, caller tools.Caller) (any, error) {
	if err := s.store.DeletePage(ctx, in.Slug, caller.UserID); err != nil {
		return nil, tools.Failf("Failed to delete page: %v", err)
	}
	s.logger.Info("page deleted", "slug", in.Slug, "user_id", caller.UserID)
	return map[string]any{
		"message": fmt.Sprintf("Page %q has been permanently deleted", in.Slug),
	}, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9-]`)

// Slugify lowercases s and replaces every character outside [a-z0-9-]
// with a hyphen.
func Slugify(s string) string {
	return slugUnsafe.ReplaceAllString(strings.ToLower(s), "-")
}
