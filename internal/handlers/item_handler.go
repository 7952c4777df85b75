package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/services"
	"go.uber.org/zap"
)

type catalogApplicationService interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListItems(ctx context.Context, query services.ItemQuery) ([]models.Item, int, error)
	GetItem(ctx context.Context, itemID int64) (*models.Item, error)
	CreateItem(ctx context.Context, sellerID int64, input services.CreateItemInput) (*models.Item, error)
	ContactSeller(ctx context.Context, userID, itemID int64) (*services.SellerContact, error)
	CategoryAttributes(ctx context.Context, slug string) ([]models.CategoryAttribute, error)
	ListMyItems(ctx context.Context, sellerID int64) ([]models.Item, error)
	UpdateItem(ctx context.Context, sellerID, itemID int64, input services.UpdateItemInput) (*models.Item, error)
	DeleteItem(ctx context.Context, sellerID, itemID int64) error
}

type ItemHandler struct {
	service catalogApplicationService
	log     *zap.Logger
}

func NewItemHandler(service catalogApplicationService, log *zap.Logger) *ItemHandler {
	return &ItemHandler{
		service: service,
		log:     log,
	}
}

// Form bodies send attributes as attributes[<name>] fields; JSON bodies
// send an attributes object.
type createItemRequest struct {
	Title          string            `json:"title" form:"title"`
	Description    string            `json:"description" form:"description"`
	Price          float64           `json:"price" form:"price"`
	Condition      string            `json:"condition" form:"condition"`
	CampusLocation string            `json:"campus_location" form:"campus_location"`
	ContactMethod  string            `json:"contact_method" form:"contact_method"`
	Category       string            `json:"category" form:"category"`
	Attributes     map[string]string `json:"attributes" form:"-"`
}

type updateItemRequest struct {
	Title          *string           `json:"title" form:"title"`
	Description    *string           `json:"description" form:"description"`
	Price          *float64          `json:"price" form:"price"`
	Condition      *string           `json:"condition" form:"condition"`
	CampusLocation *string           `json:"campus_location" form:"campus_location"`
	ContactMethod  *string           `json:"contact_method" form:"contact_method"`
	Status         *string           `json:"status" form:"status"`
	Category       *string           `json:"category" form:"category"`
	Attributes     map[string]string `json:"attributes" form:"-"`
}

func (h *ItemHandler) ListCategories(c *fiber.Ctx) error {
	categories, err := h.service.ListCategories(c.Context())
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.JSON(fiber.Map{"categories": categories})
}

func (h *ItemHandler) CategoryAttributes(c *fiber.Ctx) error {
	attributes, err := h.service.CategoryAttributes(c.Context(), c.Params("slug"))
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.JSON(fiber.Map{"attributes": attributes})
}

func (h *ItemHandler) ListItems(c *fiber.Ctx) error {
	page, limit := pageParams(c)

	items, total, err := h.service.ListItems(c.Context(), services.ItemQuery{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return h.mapCatalogError(c, err)
	}

	return c.JSON(fiber.Map{
		"items":      items,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ItemHandler) GetItem(c *fiber.Ctx) error {
	itemID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || itemID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item id"})
	}

	item, err := h.service.GetItem(c.Context(), itemID)
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.JSON(fiber.Map{"item": item})
}

func (h *ItemHandler) CreateItem(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	attributes := req.Attributes
	if attributes == nil {
		if attributes, err = formAttributes(c); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	image, err := formImage(c, "image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image upload"})
	}
	if image != nil {
		defer image.File.Close()
	}

	item, err := h.service.CreateItem(c.Context(), userID, services.CreateItemInput{
		Title:          req.Title,
		Description:    req.Description,
		Price:          req.Price,
		Condition:      req.Condition,
		CampusLocation: req.CampusLocation,
		ContactMethod:  req.ContactMethod,
		CategorySlug:   req.Category,
		Attributes:     attributes,
		Image:          image,
	})
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"item": item})
}

func (h *ItemHandler) ListMyItems(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	items, err := h.service.ListMyItems(c.Context(), userID)
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.JSON(fiber.Map{"items": items})
}

// UpdateItem patches the caller's own listing. Omitted fields are kept.
func (h *ItemHandler) UpdateItem(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	itemID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || itemID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item id"})
	}

	var req updateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	attributes := req.Attributes
	if attributes == nil {
		if attributes, err = formAttributes(c); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	image, err := formImage(c, "image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image upload"})
	}
	if image != nil {
		defer image.File.Close()
	}

	item, err := h.service.UpdateItem(c.Context(), userID, itemID, services.UpdateItemInput{
		Title:          req.Title,
		Description:    req.Description,
		Price:          req.Price,
		Condition:      req.Condition,
		CampusLocation: req.CampusLocation,
		ContactMethod:  req.ContactMethod,
		Status:         req.Status,
		CategorySlug:   req.Category,
		Attributes:     attributes,
		Image:          image,
	})
	if err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.JSON(fiber.Map{"item": item})
}

func (h *ItemHandler) DeleteItem(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	itemID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || itemID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item id"})
	}

	if err := h.service.DeleteItem(c.Context(), userID, itemID); err != nil {
		return h.mapCatalogError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ContactSeller sends chat-contact buyers into a conversation with the
// seller and returns the seller's details for the other methods.
func (h *ItemHandler) ContactSeller(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	itemID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || itemID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item id"})
	}

	contact, err := h.service.ContactSeller(c.Context(), userID, itemID)
	if err != nil {
		return h.mapCatalogError(c, err)
	}

	if contact.Method == models.ContactMethodChat {
		return c.Redirect("/chat/start/"+strconv.FormatInt(contact.SellerID, 10), fiber.StatusSeeOther)
	}
	return c.JSON(fiber.Map{"contact": contact})
}

func (h *ItemHandler) mapCatalogError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": validationErr.Fields})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "You can only manage your own items"})
	case errors.Is(err, services.ErrItemNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Item not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Category not found"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Seller not found"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Image uploads are not available"})
	default:
		h.log.Error("catalog request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process catalog request"})
	}
}

// formAttributes collects attributes[<name>] fields from a urlencoded or
// multipart body. It returns nil when there are none.
func formAttributes(c *fiber.Ctx) (map[string]string, error) {
	values := make(map[string]string)
	collect := func(key, value string) {
		name, ok := strings.CutPrefix(key, "attributes[")
		if ok && strings.HasSuffix(name, "]") {
			values[strings.TrimSuffix(name, "]")] = value
		}
	}

	contentType := string(c.Request().Header.ContentType())
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		for key, fieldValues := range form.Value {
			if len(fieldValues) > 0 {
				collect(key, fieldValues[0])
			}
		}
	case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			collect(string(key), string(value))
		})
	}

	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
