package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/repository"
)

const (
	maxTitleLength          = 255
	maxDescriptionLength    = 5000
	maxAttributeValueLength = 255
)

var allowedConditions = map[string]struct{}{
	"new":  {},
	"used": {},
}

var allowedStatuses = map[string]struct{}{
	models.ItemStatusActive: {},
	models.ItemStatusSold:   {},
}

var allowedContactMethods = map[string]struct{}{
	models.ContactMethodChat:  {},
	models.ContactMethodEmail: {},
	models.ContactMethodPhone: {},
}

type ItemCatalog interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	ListActive(ctx context.Context, filter repository.ItemListFilter) ([]models.Item, int, error)
	GetByID(ctx context.Context, itemID int64) (*models.Item, error)
	Create(ctx context.Context, input repository.CreateItemInput) (*models.Item, error)
	Update(ctx context.Context, input repository.UpdateItemInput) (*models.Item, error)
	Delete(ctx context.Context, itemID, sellerID int64) (*string, error)
	ListBySeller(ctx context.Context, sellerID int64) ([]models.Item, error)
	ListCategoryAttributes(ctx context.Context, categoryID int64) ([]models.CategoryAttribute, error)
}

type CatalogService struct {
	items    ItemCatalog
	users    userReader
	profiles profileLookup
	storage  StorageService
}

func NewCatalogService(items ItemCatalog, users userReader, profiles profileLookup, storage StorageService) *CatalogService {
	return &CatalogService{
		items:    items,
		users:    users,
		profiles: profiles,
		storage:  storage,
	}
}

type ItemQuery struct {
	Query    string
	Category string
	Page     int
	Limit    int
}

type CreateItemInput struct {
	Title          string
	Description    string
	Price          float64
	Condition      string
	CampusLocation string
	ContactMethod  string
	CategorySlug   string
	Attributes     map[string]string
	Image          *ImageUpload
}

// UpdateItemInput carries the fields a seller changes. Nil fields are left
// alone. A nil Attributes map keeps the stored values unless the category
// changes, in which case they are cleared.
type UpdateItemInput struct {
	Title          *string
	Description    *string
	Price          *float64
	Condition      *string
	CampusLocation *string
	ContactMethod  *string
	Status         *string
	CategorySlug   *string
	Attributes     map[string]string
	Image          *ImageUpload
}

// SellerContact tells a buyer how to reach a seller. Chat contacts carry no
// details; the caller is sent into a conversation instead.
type SellerContact struct {
	Method   string  `json:"contact_method"`
	SellerID int64   `json:"seller_id"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.items.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// CategoryAttributes lists the attributes a listing in the category may set.
func (s *CatalogService) CategoryAttributes(ctx context.Context, slug string) ([]models.CategoryAttribute, error) {
	category, err := s.items.GetCategoryBySlug(ctx, normalize(slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load category: %w", err)
	}

	attributes, err := s.items.ListCategoryAttributes(ctx, category.ID)
	if err != nil {
		return nil, fmt.Errorf("list category attributes: %w", err)
	}
	return attributes, nil
}

func (s *CatalogService) ListItems(ctx context.Context, query ItemQuery) ([]models.Item, int, error) {
	if query.Page <= 0 || query.Limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	items, total, err := s.items.ListActive(ctx, repository.ItemListFilter{
		Query:        strings.TrimSpace(query.Query),
		CategorySlug: strings.TrimSpace(strings.ToLower(query.Category)),
		Limit:        query.Limit,
		Offset:       (query.Page - 1) * query.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

func (s *CatalogService) GetItem(ctx context.Context, itemID int64) (*models.Item, error) {
	if itemID <= 0 {
		return nil, ErrItemNotFound
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

func (s *CatalogService) CreateItem(ctx context.Context, sellerID int64, input CreateItemInput) (*models.Item, error) {
	fields := validateItemInput(&input)

	var categoryID *int64
	if input.CategorySlug != "" {
		category, err := s.items.GetCategoryBySlug(ctx, input.CategorySlug)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			fields["category"] = "unknown category"
		case err != nil:
			return nil, fmt.Errorf("load category: %w", err)
		default:
			categoryID = &category.ID
		}
	}

	attributes, err := s.resolveAttributes(ctx, categoryID, input.Attributes, fields)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	var imageURL *string
	if input.Image != nil {
		uploaded, err := storeImage(ctx, s.storage, input.Image, "image", ItemImageFolder)
		if err != nil {
			return nil, err
		}
		imageURL = &uploaded
	}

	item, err := s.items.Create(ctx, repository.CreateItemInput{
		SellerID:       sellerID,
		CategoryID:     categoryID,
		Title:          input.Title,
		Description:    input.Description,
		Price:          input.Price,
		Condition:      input.Condition,
		CampusLocation: input.CampusLocation,
		ContactMethod:  input.ContactMethod,
		ImageURL:       imageURL,
		Attributes:     attributes,
	})
	if err != nil {
		if imageURL != nil {
			_ = s.storage.DeleteFile(ctx, *imageURL)
		}
		return nil, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

// ListMyItems returns the caller's own listings, sold ones included.
func (s *CatalogService) ListMyItems(ctx context.Context, sellerID int64) ([]models.Item, error) {
	items, err := s.items.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller items: %w", err)
	}
	return items, nil
}

// UpdateItem edits a listing owned by sellerID. Marking it sold is a status
// change like any other field.
func (s *CatalogService) UpdateItem(ctx context.Context, sellerID, itemID int64, input UpdateItemInput) (*models.Item, error) {
	current, err := s.ownedItem(ctx, sellerID, itemID)
	if err != nil {
		return nil, err
	}

	fields := validateItemUpdate(&input)
	patch := repository.UpdateItemInput{
		ItemID:         itemID,
		SellerID:       sellerID,
		Title:          input.Title,
		Description:    input.Description,
		Price:          input.Price,
		Condition:      input.Condition,
		CampusLocation: input.CampusLocation,
		ContactMethod:  input.ContactMethod,
		Status:         input.Status,
	}

	categoryID := current.CategoryID
	if input.CategorySlug != nil && *input.CategorySlug != "" {
		category, err := s.items.GetCategoryBySlug(ctx, *input.CategorySlug)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			fields["category"] = "unknown category"
		case err != nil:
			return nil, fmt.Errorf("load category: %w", err)
		default:
			categoryID = &category.ID
			patch.CategoryID = &category.ID
		}
	}

	categoryChanged := patch.CategoryID != nil &&
		(current.CategoryID == nil || *current.CategoryID != *patch.CategoryID)
	if input.Attributes != nil || categoryChanged {
		patch.ReplaceAttributes = true
		patch.Attributes, err = s.resolveAttributes(ctx, categoryID, input.Attributes, fields)
		if err != nil {
			return nil, err
		}
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if input.Image != nil {
		uploaded, err := storeImage(ctx, s.storage, input.Image, "image", ItemImageFolder)
		if err != nil {
			return nil, err
		}
		patch.ImageURL = &uploaded
	}

	item, err := s.items.Update(ctx, patch)
	if err != nil {
		if patch.ImageURL != nil {
			_ = s.storage.DeleteFile(ctx, *patch.ImageURL)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("update item: %w", err)
	}

	if patch.ImageURL != nil && current.ImageURL != nil && *current.ImageURL != *patch.ImageURL {
		_ = s.storage.DeleteFile(ctx, *current.ImageURL)
	}
	return item, nil
}

// DeleteItem removes a listing owned by sellerID along with its image.
func (s *CatalogService) DeleteItem(ctx context.Context, sellerID, itemID int64) error {
	if _, err := s.ownedItem(ctx, sellerID, itemID); err != nil {
		return err
	}

	imageURL, err := s.items.Delete(ctx, itemID, sellerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}

	if imageURL != nil && *imageURL != "" && s.storage != nil {
		_ = s.storage.DeleteFile(ctx, *imageURL)
	}
	return nil
}

func (s *CatalogService) ownedItem(ctx context.Context, sellerID, itemID int64) (*models.Item, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerID != sellerID {
		return nil, ErrForbidden
	}
	return item, nil
}

// resolveAttributes matches submitted attribute names against the category's
// attributes, case-insensitively. Blank values are dropped. Problems are
// recorded in fields under "attributes.<name>".
func (s *CatalogService) resolveAttributes(
	ctx context.Context,
	categoryID *int64,
	submitted map[string]string,
	fields map[string]string,
) ([]repository.AttributeValueInput, error) {
	resolved := make([]repository.AttributeValueInput, 0, len(submitted))
	if len(submitted) == 0 {
		return resolved, nil
	}
	if categoryID == nil {
		fields["attributes"] = "a category is required to set attributes"
		return resolved, nil
	}

	known, err := s.items.ListCategoryAttributes(ctx, *categoryID)
	if err != nil {
		return nil, fmt.Errorf("list category attributes: %w", err)
	}
	byName := make(map[string]models.CategoryAttribute, len(known))
	for _, attribute := range known {
		byName[normalize(attribute.Name)] = attribute
	}

	names := make([]string, 0, len(submitted))
	for name := range submitted {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := strings.TrimSpace(submitted[name])
		if value == "" {
			continue
		}
		key := "attributes." + strings.TrimSpace(name)

		attribute, ok := byName[normalize(name)]
		if !ok {
			fields[key] = "is not an attribute of this category"
			continue
		}
		if len(value) > maxAttributeValueLength {
			fields[key] = "must be at most 255 characters"
			continue
		}
		if len(attribute.Options) > 0 {
			option, ok := matchOption(attribute.Options, value)
			if !ok {
				fields[key] = "must be one of: " + strings.Join(attribute.Options, ", ")
				continue
			}
			value = option
		}
		resolved = append(resolved, repository.AttributeValueInput{AttributeID: attribute.ID, Value: value})
	}
	return resolved, nil
}

func matchOption(options []string, value string) (string, bool) {
	for _, option := range options {
		if strings.EqualFold(option, value) {
			return option, true
		}
	}
	return "", false
}

// ContactSeller resolves how the caller reaches the seller of an item.
// Contacting your own listing is rejected.
func (s *CatalogService) ContactSeller(ctx context.Context, userID, itemID int64) (*SellerContact, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerID == userID {
		return nil, NewValidationError("item", "you cannot contact yourself about your own item")
	}

	contact := &SellerContact{Method: item.ContactMethod, SellerID: item.SellerID}
	switch item.ContactMethod {
	case models.ContactMethodEmail:
		seller, err := s.users.GetByID(ctx, item.SellerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("load seller: %w", err)
		}
		contact.Email = &seller.Email
	case models.ContactMethodPhone:
		profile, err := s.profiles.GetByUserID(ctx, item.SellerID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load seller profile: %w", err)
		}
		if profile != nil {
			contact.Phone = profile.PhoneNumber
		}
	}
	return contact, nil
}

func validateItemInput(input *CreateItemInput) map[string]string {
	fields := make(map[string]string)

	input.Title = validateTitle(input.Title, fields)
	input.Description = validateDescription(input.Description, fields)
	validatePrice(input.Price, fields)

	if normalize(input.Condition) == "" {
		input.Condition = "used"
	}
	input.Condition = validateCondition(input.Condition, fields)
	input.ContactMethod = validateContactMethod(input.ContactMethod, fields)

	input.CampusLocation = strings.TrimSpace(input.CampusLocation)
	input.CategorySlug = normalize(input.CategorySlug)

	return fields
}

func validateItemUpdate(input *UpdateItemInput) map[string]string {
	fields := make(map[string]string)

	if input.Title != nil {
		title := validateTitle(*input.Title, fields)
		input.Title = &title
	}
	if input.Description != nil {
		description := validateDescription(*input.Description, fields)
		input.Description = &description
	}
	if input.Price != nil {
		validatePrice(*input.Price, fields)
	}
	if input.Condition != nil {
		condition := validateCondition(*input.Condition, fields)
		input.Condition = &condition
	}
	if input.ContactMethod != nil {
		method := validateContactMethod(*input.ContactMethod, fields)
		input.ContactMethod = &method
	}
	if input.Status != nil {
		status := normalize(*input.Status)
		if _, ok := allowedStatuses[status]; !ok {
			fields["status"] = "must be active or sold"
		}
		input.Status = &status
	}
	if input.CampusLocation != nil {
		location := strings.TrimSpace(*input.CampusLocation)
		input.CampusLocation = &location
	}
	if input.CategorySlug != nil {
		slug := normalize(*input.CategorySlug)
		input.CategorySlug = &slug
	}

	return fields
}

func validateTitle(title string, fields map[string]string) string {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		fields["title"] = "is required"
	case len(title) > maxTitleLength:
		fields["title"] = "must be at most 255 characters"
	}
	return title
}

func validateDescription(description string, fields map[string]string) string {
	description = strings.TrimSpace(description)
	switch {
	case description == "":
		fields["description"] = "is required"
	case len(description) > maxDescriptionLength:
		fields["description"] = "must be at most 5000 characters"
	}
	return description
}

func validatePrice(price float64, fields map[string]string) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		fields["price"] = "must be greater than 0"
	}
}

func validateCondition(condition string, fields map[string]string) string {
	condition = normalize(condition)
	if _, ok := allowedConditions[condition]; !ok {
		fields["condition"] = "must be new or used"
	}
	return condition
}

func validateContactMethod(method string, fields map[string]string) string {
	method = normalize(method)
	if _, ok := allowedContactMethods[method]; !ok {
		fields["contact_method"] = "must be one of: chat, email, phone"
	}
	return method
}

func normalize(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
