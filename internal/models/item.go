package models

import "time"

const (
	ItemStatusActive = "active"
	ItemStatusSold   = "sold"

	ContactMethodChat  = "chat"
	ContactMethodEmail = "email"
	ContactMethodPhone = "phone"
)

type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

type Item struct {
	ID             int64           `json:"id"`
	SellerID       int64           `json:"seller_id"`
	CategoryID     *int64          `json:"category_id,omitempty"`
	CategorySlug   *string         `json:"category,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Price          float64         `json:"price"`
	Condition      string          `json:"condition"`
	CampusLocation string          `json:"campus_location"`
	ContactMethod  string          `json:"contact_method"`
	Status         string          `json:"status"`
	ImageURL       *string         `json:"image_url,omitempty"`
	Attributes     []ItemAttribute `json:"attributes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CategoryAttribute is a property listings in a category may describe. Empty
// Options means any text is accepted.
type CategoryAttribute struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
}

type ItemAttribute struct {
	AttributeID int64  `json:"attribute_id"`
	Name        string `json:"name"`
	Value       string `json:"value"`
}
