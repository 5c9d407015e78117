package models

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NotAvailable is the sentinel for scalar fields the page did not provide.
const NotAvailable = "N/A"

// Specifications maps composite keys ("Tab > Group > Key") to values in
// first-seen order.
type Specifications = orderedmap.OrderedMap[string, string]

// NewSpecifications returns an empty ordered specification map.
func NewSpecifications() *Specifications {
	return orderedmap.New[string, string]()
}

// Successor describes the replacement of a phased-out product.
type Successor struct {
	Name       string `json:"name"`
	PartNumber string `json:"part_number"`
	URL        string `json:"url"`
}

// String renders the successor as a single cell value.
func (s Successor) String() string {
	return fmt.Sprintf("%s (Part: %s) | URL: %s", s.Name, s.PartNumber, s.URL)
}

// Accessory is a suitable-accessory tile on the product page.
type Accessory struct {
	Name       string `json:"name"`
	PartNumber string `json:"part_number"`
}

// String renders the accessory as "name (part number)".
func (a Accessory) String() string {
	return fmt.Sprintf("%s (%s)", a.Name, a.PartNumber)
}

// ProductRecord is everything harvested for one identifier.
type ProductRecord struct {
	Identifier   string
	URL          string
	Name         string
	Description  string
	Category     string
	PartNumber   string
	PriceTeaser  string
	PhasedOut    bool
	Successor    *Successor
	Certificates []string
	Accessories  []Accessory

	Specifications *Specifications

	ImageURLs    []string
	ImagePaths   []string
	DrawingURLs  []string
	DrawingPaths []string

	DatasheetURL string
}

// NewProductRecord returns a record for identifier with every field at its
// default: NotAvailable for scalars, empty for collections.
func NewProductRecord(identifier string) *ProductRecord {
	return &ProductRecord{
		Identifier:     identifier,
		URL:            NotAvailable,
		Name:           NotAvailable,
		Description:    NotAvailable,
		Category:       NotAvailable,
		PartNumber:     NotAvailable,
		PriceTeaser:    NotAvailable,
		Certificates:   []string{},
		Accessories:    []Accessory{},
		Specifications: NewSpecifications(),
		ImageURLs:      []string{},
		ImagePaths:     []string{},
		DrawingURLs:    []string{},
		DrawingPaths:   []string{},
		DatasheetURL:   NotAvailable,
	}
}
