package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/repository"
)

type stubItemCatalog struct {
	categories  map[string]models.Category
	attributes  map[int64][]models.CategoryAttribute
	items       map[int64]*models.Item
	lastFilter  repository.ItemListFilter
	lastCreate  repository.CreateItemInput
	lastUpdate  repository.UpdateItemInput
	createCalls int
	updateCalls int
	deleted     []int64
	listErr     error
}

func newStubItemCatalog() *stubItemCatalog {
	return &stubItemCatalog{
		categories: map[string]models.Category{
			"electronics": {ID: 2, Name: "Electronics", Slug: "electronics"},
			"laptops":     {ID: 5, Name: "Laptops", Slug: "laptops", ParentID: int64Ptr(2)},
		},
		attributes: map[int64][]models.CategoryAttribute{
			5: {
				{ID: 1, Name: "Brand", Options: []string{"Dell", "Lenovo", "Apple"}},
				{ID: 4, Name: "RAM"},
			},
		},
		items: map[int64]*models.Item{},
	}
}

func int64Ptr(value int64) *int64 {
	return &value
}

func (s *stubItemCatalog) ListCategories(_ context.Context) ([]models.Category, error) {
	categories := make([]models.Category, 0, len(s.categories))
	for _, category := range s.categories {
		categories = append(categories, category)
	}
	return categories, nil
}

func (s *stubItemCatalog) GetCategoryBySlug(_ context.Context, slug string) (*models.Category, error) {
	category, ok := s.categories[slug]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &category, nil
}

func (s *stubItemCatalog) ListActive(_ context.Context, filter repository.ItemListFilter) ([]models.Item, int, error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	return []models.Item{}, 0, nil
}

func (s *stubItemCatalog) GetByID(_ context.Context, itemID int64) (*models.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return item, nil
}

func (s *stubItemCatalog) Create(_ context.Context, input repository.CreateItemInput) (*models.Item, error) {
	s.createCalls++
	s.lastCreate = input
	return &models.Item{
		ID:            99,
		SellerID:      input.SellerID,
		CategoryID:    input.CategoryID,
		Title:         input.Title,
		Price:         input.Price,
		ContactMethod: input.ContactMethod,
		Status:        models.ItemStatusActive,
		ImageURL:      input.ImageURL,
	}, nil
}

func (s *stubItemCatalog) Update(_ context.Context, input repository.UpdateItemInput) (*models.Item, error) {
	s.updateCalls++
	s.lastUpdate = input
	item, ok := s.items[input.ItemID]
	if !ok || item.SellerID != input.SellerID {
		return nil, pgx.ErrNoRows
	}
	updated := *item
	if input.Status != nil {
		updated.Status = *input.Status
	}
	if input.Title != nil {
		updated.Title = *input.Title
	}
	if input.ImageURL != nil {
		updated.ImageURL = input.ImageURL
	}
	return &updated, nil
}

func (s *stubItemCatalog) Delete(_ context.Context, itemID, sellerID int64) (*string, error) {
	item, ok := s.items[itemID]
	if !ok || item.SellerID != sellerID {
		return nil, pgx.ErrNoRows
	}
	delete(s.items, itemID)
	s.deleted = append(s.deleted, itemID)
	return item.ImageURL, nil
}

func (s *stubItemCatalog) ListBySeller(_ context.Context, sellerID int64) ([]models.Item, error) {
	items := make([]models.Item, 0)
	for _, item := range s.items {
		if item.SellerID == sellerID {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (s *stubItemCatalog) ListCategoryAttributes(_ context.Context, categoryID int64) ([]models.CategoryAttribute, error) {
	return s.attributes[categoryID], nil
}

type stubProfileLookup struct {
	profiles map[int64]*models.Profile
}

func (s *stubProfileLookup) GetByUserID(_ context.Context, userID int64) (*models.Profile, error) {
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return profile, nil
}

func newCatalogFixture() (*CatalogService, *stubItemCatalog, *stubImageStorage) {
	catalog := newStubItemCatalog()
	phone := "+1 555 0100"
	users := &stubUsers{users: map[int64]*models.User{
		10: {ID: 10, Username: "seller", Email: "seller@campus.test"},
	}}
	profiles := &stubProfileLookup{profiles: map[int64]*models.Profile{
		10: {UserID: 10, PhoneNumber: &phone},
	}}
	storage := &stubImageStorage{}
	return NewCatalogService(catalog, users, profiles, storage), catalog, storage
}

func TestListItemsTranslatesPagination(t *testing.T) {
	service, catalog, _ := newCatalogFixture()

	_, _, err := service.ListItems(context.Background(), ItemQuery{
		Query:    "  lamp ",
		Category: "Electronics",
		Page:     3,
		Limit:    20,
	})
	require.NoError(t, err)

	assert.Equal(t, repository.ItemListFilter{
		Query:        "lamp",
		CategorySlug: "electronics",
		Limit:        20,
		Offset:       40,
	}, catalog.lastFilter)
}

func TestListItemsRejectsBadPage(t *testing.T) {
	service, _, _ := newCatalogFixture()

	_, _, err := service.ListItems(context.Background(), ItemQuery{Page: 0, Limit: 10})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListItemsWrapsStoreError(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.listErr = errors.New("boom")

	_, _, err := service.ListItems(context.Background(), ItemQuery{Page: 1, Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.listErr)
}

func TestCreateItemValidatesFields(t *testing.T) {
	service, catalog, _ := newCatalogFixture()

	_, err := service.CreateItem(context.Background(), 10, CreateItemInput{
		Title:         " ",
		Price:         0,
		Condition:     "broken",
		ContactMethod: "pigeon",
		CategorySlug:  "spaceships",
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	for _, field := range []string{"title", "description", "price", "condition", "contact_method", "category"} {
		assert.Contains(t, validationErr.Fields, field)
	}
	assert.Zero(t, catalog.createCalls)
}

func TestCreateItemResolvesCategoryAndImage(t *testing.T) {
	service, catalog, storage := newCatalogFixture()

	item, err := service.CreateItem(context.Background(), 10, CreateItemInput{
		Title:         " Desk lamp ",
		Description:   "works fine",
		Price:         12.5,
		ContactMethod: "Chat",
		CategorySlug:  "electronics",
		Image: &ImageUpload{
			File:     nopFile{bytes.NewReader([]byte("jpg"))},
			Filename: "lamp.jpg",
			Size:     3,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Desk lamp", catalog.lastCreate.Title)
	assert.Equal(t, "used", catalog.lastCreate.Condition)
	assert.Equal(t, models.ContactMethodChat, catalog.lastCreate.ContactMethod)
	require.NotNil(t, catalog.lastCreate.CategoryID)
	assert.Equal(t, int64(2), *catalog.lastCreate.CategoryID)
	require.NotNil(t, item.ImageURL)
	assert.Equal(t, ItemImageFolder, storage.folder)
}

func TestContactSeller(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, ContactMethod: models.ContactMethodChat}
	catalog.items[2] = &models.Item{ID: 2, SellerID: 10, ContactMethod: models.ContactMethodEmail}
	catalog.items[3] = &models.Item{ID: 3, SellerID: 10, ContactMethod: models.ContactMethodPhone}
	ctx := context.Background()

	contact, err := service.ContactSeller(ctx, 20, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ContactMethodChat, contact.Method)
	assert.Equal(t, int64(10), contact.SellerID)
	assert.Nil(t, contact.Email)

	contact, err = service.ContactSeller(ctx, 20, 2)
	require.NoError(t, err)
	require.NotNil(t, contact.Email)
	assert.Equal(t, "seller@campus.test", *contact.Email)

	contact, err = service.ContactSeller(ctx, 20, 3)
	require.NoError(t, err)
	require.NotNil(t, contact.Phone)

	_, err = service.ContactSeller(ctx, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = service.ContactSeller(ctx, 20, 404)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestCreateItemResolvesAttributes(t *testing.T) {
	service, catalog, _ := newCatalogFixture()

	_, err := service.CreateItem(context.Background(), 10, CreateItemInput{
		Title:         "ThinkPad X1",
		Description:   "barely used",
		Price:         350,
		ContactMethod: "chat",
		CategorySlug:  "laptops",
		Attributes:    map[string]string{"brand": " lenovo ", "RAM": "16GB", "Processor": ""},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []repository.AttributeValueInput{
		{AttributeID: 1, Value: "Lenovo"},
		{AttributeID: 4, Value: "16GB"},
	}, catalog.lastCreate.Attributes)
}

func TestCreateItemRejectsInvalidAttributes(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	ctx := context.Background()

	_, err := service.CreateItem(ctx, 10, CreateItemInput{
		Title:         "ThinkPad X1",
		Description:   "barely used",
		Price:         350,
		ContactMethod: "chat",
		CategorySlug:  "laptops",
		Attributes:    map[string]string{"Brand": "Commodore", "Wheels": "4"},
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields["attributes.Brand"], "must be one of")
	assert.Contains(t, validationErr.Fields, "attributes.Wheels")

	_, err = service.CreateItem(ctx, 10, CreateItemInput{
		Title:         "Mystery box",
		Description:   "who knows",
		Price:         5,
		ContactMethod: "chat",
		Attributes:    map[string]string{"Brand": "Dell"},
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields, "attributes")
	assert.Zero(t, catalog.createCalls)
}

func TestCategoryAttributes(t *testing.T) {
	service, _, _ := newCatalogFixture()
	ctx := context.Background()

	attributes, err := service.CategoryAttributes(ctx, " Laptops ")
	require.NoError(t, err)
	require.Len(t, attributes, 2)
	assert.Equal(t, "Brand", attributes[0].Name)

	_, err = service.CategoryAttributes(ctx, "spaceships")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateItemMarksSoldForOwnerOnly(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, Title: "Desk", Status: models.ItemStatusActive}
	ctx := context.Background()

	sold := " Sold "
	item, err := service.UpdateItem(ctx, 10, 1, UpdateItemInput{Status: &sold})
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusSold, item.Status)
	assert.False(t, catalog.lastUpdate.ReplaceAttributes)
	assert.Nil(t, catalog.lastUpdate.Title)

	_, err = service.UpdateItem(ctx, 20, 1, UpdateItemInput{Status: &sold})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.UpdateItem(ctx, 10, 404, UpdateItemInput{Status: &sold})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, 1, catalog.updateCalls)
}

func TestUpdateItemValidatesProvidedFields(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, Title: "Desk", Status: models.ItemStatusActive}

	blank := "  "
	status := "reserved"
	price := -1.0
	category := "spaceships"
	_, err := service.UpdateItem(context.Background(), 10, 1, UpdateItemInput{
		Title:        &blank,
		Status:       &status,
		Price:        &price,
		CategorySlug: &category,
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	for _, field := range []string{"title", "status", "price", "category"} {
		assert.Contains(t, validationErr.Fields, field)
	}
	assert.NotContains(t, validationErr.Fields, "description")
	assert.Zero(t, catalog.updateCalls)
}

func TestUpdateItemCategoryChangeReplacesAttributes(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, CategoryID: int64Ptr(2), Status: models.ItemStatusActive}
	ctx := context.Background()

	laptops := "laptops"
	_, err := service.UpdateItem(ctx, 10, 1, UpdateItemInput{CategorySlug: &laptops})
	require.NoError(t, err)
	require.NotNil(t, catalog.lastUpdate.CategoryID)
	assert.Equal(t, int64(5), *catalog.lastUpdate.CategoryID)
	assert.True(t, catalog.lastUpdate.ReplaceAttributes)
	assert.Empty(t, catalog.lastUpdate.Attributes)

	_, err = service.UpdateItem(ctx, 10, 1, UpdateItemInput{
		CategorySlug: &laptops,
		Attributes:   map[string]string{"Brand": "apple"},
	})
	require.NoError(t, err)
	assert.Equal(t, []repository.AttributeValueInput{{AttributeID: 1, Value: "Apple"}}, catalog.lastUpdate.Attributes)
}

func TestUpdateItemReplacesImage(t *testing.T) {
	service, catalog, storage := newCatalogFixture()
	previous := "https://cdn.example.com/items/old.jpg"
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, ImageURL: &previous}

	item, err := service.UpdateItem(context.Background(), 10, 1, UpdateItemInput{
		Image: &ImageUpload{
			File:     nopFile{bytes.NewReader([]byte("png"))},
			Filename: "desk.png",
			Size:     3,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, item.ImageURL)
	assert.NotEqual(t, previous, *item.ImageURL)
	assert.Equal(t, []string{previous}, storage.deleted)
}

func TestDeleteItem(t *testing.T) {
	service, catalog, storage := newCatalogFixture()
	image := "https://cdn.example.com/items/desk.jpg"
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, ImageURL: &image}
	ctx := context.Background()

	assert.ErrorIs(t, service.DeleteItem(ctx, 20, 1), ErrForbidden)
	assert.Empty(t, catalog.deleted)

	require.NoError(t, service.DeleteItem(ctx, 10, 1))
	assert.Equal(t, []int64{1}, catalog.deleted)
	assert.Equal(t, []string{image}, storage.deleted)

	assert.ErrorIs(t, service.DeleteItem(ctx, 10, 1), ErrItemNotFound)
}

func TestListMyItemsIncludesSold(t *testing.T) {
	service, catalog, _ := newCatalogFixture()
	catalog.items[1] = &models.Item{ID: 1, SellerID: 10, Status: models.ItemStatusActive}
	catalog.items[2] = &models.Item{ID: 2, SellerID: 10, Status: models.ItemStatusSold}
	catalog.items[3] = &models.Item{ID: 3, SellerID: 11, Status: models.ItemStatusActive}

	items, err := service.ListMyItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
