package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
)

type ItemListFilter struct {
	Query        string
	CategorySlug string
	Limit        int
	Offset       int
}

type CreateItemInput struct {
	SellerID       int64
	CategoryID     *int64
	Title          string
	Description    string
	Price          float64
	Condition      string
	CampusLocation string
	ContactMethod  string
	ImageURL       *string
	Attributes     []AttributeValueInput
}

type AttributeValueInput struct {
	AttributeID int64
	Value       string
}

// UpdateItemInput patches an item. Nil fields keep their stored value.
// ReplaceAttributes swaps the whole attribute set for Attributes.
type UpdateItemInput struct {
	ItemID            int64
	SellerID          int64
	CategoryID        *int64
	Title             *string
	Description       *string
	Price             *float64
	Condition         *string
	CampusLocation    *string
	ContactMethod     *string
	Status            *string
	ImageURL          *string
	ReplaceAttributes bool
	Attributes        []AttributeValueInput
}

type ItemRepository struct {
	db DBTX
}

func NewItemRepository(db DBTX) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemSelect = `
		SELECT i.id, i.seller_id, i.category_id, cat.slug, i.title, i.description,
			   i.price::float8, i.condition, i.campus_location, i.contact_method,
			   i.status, i.image_url, i.created_at, i.updated_at
		FROM items i
		LEFT JOIN categories cat ON cat.id = i.category_id
`

func (r *ItemRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, slug, parent_id
		FROM categories
		ORDER BY parent_id NULLS FIRST, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]models.Category, 0)
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.Name, &category.Slug, &category.ParentID); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *ItemRepository) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	err := r.db.QueryRow(ctx, `
		SELECT id, name, slug, parent_id
		FROM categories
		WHERE slug = $1
	`, slug).Scan(&category.ID, &category.Name, &category.Slug, &category.ParentID)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListCategoryAttributes returns the attributes a listing in categoryID may
// carry, ordered by name.
func (r *ItemRepository) ListCategoryAttributes(ctx context.Context, categoryID int64) ([]models.CategoryAttribute, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.name, ca.options
		FROM category_attributes ca
		JOIN attributes a ON a.id = ca.attribute_id
		WHERE ca.category_id = $1
		ORDER BY a.name ASC
	`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attributes := make([]models.CategoryAttribute, 0)
	for rows.Next() {
		var (
			attribute models.CategoryAttribute
			options   *string
		)
		if err := rows.Scan(&attribute.ID, &attribute.Name, &options); err != nil {
			return nil, err
		}
		if options != nil {
			attribute.Options = splitOptions(*options)
		}
		attributes = append(attributes, attribute)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attributes, nil
}

// ListActive returns active listings newest first plus the total match count.
// Query is a case-insensitive substring match; a category slug matches the
// whole subtree below it.
func (r *ItemRepository) ListActive(
	ctx context.Context,
	filter ItemListFilter,
) ([]models.Item, int, error) {
	args := []any{models.ItemStatusActive}
	whereParts := []string{"i.status = $1"}

	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		whereParts = append(whereParts, fmt.Sprintf(
			"(i.title ILIKE $%d OR i.description ILIKE $%d)", len(args), len(args),
		))
	}

	if slug := strings.TrimSpace(filter.CategorySlug); slug != "" {
		args = append(args, slug)
		whereParts = append(whereParts, fmt.Sprintf(`i.category_id IN (
			WITH RECURSIVE subtree AS (
				SELECT id FROM categories WHERE slug = $%d
				UNION ALL
				SELECT c.id FROM categories c JOIN subtree s ON c.parent_id = s.id
			)
			SELECT id FROM subtree
		)`, len(args)))
	}

	where := strings.Join(whereParts, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM items i WHERE %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`%s
		WHERE %s
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT $%d OFFSET $%d
	`, itemSelect, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// ListBySeller returns every listing of sellerID, sold ones included.
func (r *ItemRepository) ListBySeller(ctx context.Context, sellerID int64) ([]models.Item, error) {
	rows, err := r.db.Query(ctx, itemSelect+`
		WHERE i.seller_id = $1
		ORDER BY i.created_at DESC, i.id DESC
	`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetByID returns the item with its attribute values.
func (r *ItemRepository) GetByID(ctx context.Context, itemID int64) (*models.Item, error) {
	item, err := scanItem(r.db.QueryRow(ctx, itemSelect+` WHERE i.id = $1`, itemID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT v.attribute_id, a.name, v.value
		FROM item_attribute_values v
		JOIN attributes a ON a.id = v.attribute_id
		WHERE v.item_id = $1
		ORDER BY a.name ASC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	item.Attributes = make([]models.ItemAttribute, 0)
	for rows.Next() {
		var attribute models.ItemAttribute
		if err := rows.Scan(&attribute.AttributeID, &attribute.Name, &attribute.Value); err != nil {
			return nil, err
		}
		item.Attributes = append(item.Attributes, attribute)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return item, nil
}

// Create inserts the item and its attribute values in one statement.
func (r *ItemRepository) Create(ctx context.Context, input CreateItemInput) (*models.Item, error) {
	attributeIDs, values := splitAttributeValues(input.Attributes)

	var itemID int64
	err := r.db.QueryRow(ctx, `
		WITH created AS (
			INSERT INTO items (seller_id, category_id, title, description, price, condition,
							   campus_location, contact_method, status, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		), attribute_values AS (
			INSERT INTO item_attribute_values (item_id, attribute_id, value)
			SELECT created.id, a.attribute_id, a.value
			FROM created, unnest($11::bigint[], $12::text[]) AS a (attribute_id, value)
		)
		SELECT id FROM created
	`,
		input.SellerID,
		input.CategoryID,
		input.Title,
		input.Description,
		input.Price,
		input.Condition,
		input.CampusLocation,
		input.ContactMethod,
		models.ItemStatusActive,
		input.ImageURL,
		attributeIDs,
		values,
	).Scan(&itemID)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, itemID)
}

// Update applies input to an item owned by input.SellerID. It returns
// pgx.ErrNoRows when no such item exists for that seller.
func (r *ItemRepository) Update(ctx context.Context, input UpdateItemInput) (*models.Item, error) {
	attributeIDs, values := splitAttributeValues(input.Attributes)

	var itemID int64
	err := r.db.QueryRow(ctx, `
		WITH updated AS (
			UPDATE items SET
				category_id     = COALESCE($3, category_id),
				title           = COALESCE($4, title),
				description     = COALESCE($5, description),
				price           = COALESCE($6, price),
				condition       = COALESCE($7, condition),
				campus_location = COALESCE($8, campus_location),
				contact_method  = COALESCE($9, contact_method),
				status          = COALESCE($10, status),
				image_url       = COALESCE($11, image_url),
				updated_at      = NOW()
			WHERE id = $1 AND seller_id = $2
			RETURNING id
		), cleared AS (
			DELETE FROM item_attribute_values v
			USING updated
			WHERE $12::boolean
			  AND v.item_id = updated.id
			  AND NOT (v.attribute_id = ANY ($13::bigint[]))
		), attribute_values AS (
			INSERT INTO item_attribute_values (item_id, attribute_id, value)
			SELECT updated.id, a.attribute_id, a.value
			FROM updated, unnest($13::bigint[], $14::text[]) AS a (attribute_id, value)
			WHERE $12::boolean
			ON CONFLICT (item_id, attribute_id) DO UPDATE SET value = EXCLUDED.value
		)
		SELECT id FROM updated
	`,
		input.ItemID,
		input.SellerID,
		input.CategoryID,
		input.Title,
		input.Description,
		input.Price,
		input.Condition,
		input.CampusLocation,
		input.ContactMethod,
		input.Status,
		input.ImageURL,
		input.ReplaceAttributes,
		attributeIDs,
		values,
	).Scan(&itemID)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, itemID)
}

// Delete removes an item owned by sellerID and returns its image URL so the
// caller can drop the stored file.
func (r *ItemRepository) Delete(ctx context.Context, itemID, sellerID int64) (*string, error) {
	var imageURL *string
	err := r.db.QueryRow(ctx, `
		DELETE FROM items
		WHERE id = $1 AND seller_id = $2
		RETURNING image_url
	`, itemID, sellerID).Scan(&imageURL)
	if err != nil {
		return nil, err
	}
	return imageURL, nil
}

func scanItem(row pgx.Row) (*models.Item, error) {
	var item models.Item
	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.CategoryID,
		&item.CategorySlug,
		&item.Title,
		&item.Description,
		&item.Price,
		&item.Condition,
		&item.CampusLocation,
		&item.ContactMethod,
		&item.Status,
		&item.ImageURL,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// splitAttributeValues returns non-nil parallel arrays so an empty set binds
// as '{}' rather than NULL.
func splitAttributeValues(attributes []AttributeValueInput) ([]int64, []string) {
	ids := make([]int64, 0, len(attributes))
	values := make([]string, 0, len(attributes))
	for _, attribute := range attributes {
		ids = append(ids, attribute.AttributeID)
		values = append(values, attribute.Value)
	}
	return ids, values
}

func splitOptions(raw string) []string {
	options := make([]string, 0)
	for _, option := range strings.Split(raw, ",") {
		if option = strings.TrimSpace(option); option != "" {
			options = append(options, option)
		}
	}
	return options
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
