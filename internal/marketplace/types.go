package marketplace

// ListItem is one entry of the paginated listing endpoint.
type ListItem struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ListPrice     float64 `json:"list_price"`
	OriginalPrice float64 `json:"original_price"`
	ThumbnailURL  string  `json:"thumbnail_url"`
	QuantitySold  *struct {
		Value int `json:"value"`
	} `json:"quantity_sold,omitempty"`
}

type listResponse struct {
	Data []ListItem `json:"data"`
}

// AuthorData is a contributor entry on the detail payload. Entries missing
// id or name are dropped during extraction.
type AuthorData struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Detail is the normalized per-item detail payload.
type Detail struct {
	ID               int64
	Name             string
	Description      string
	OriginalPrice    float64
	PromotionalPrice float64
	QuantitySold     int
	ThumbnailURL     string
	Authors          []AuthorData
}

type detailResponse struct {
	ID                  int64        `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	ShortDescription    string       `json:"short_description"`
	Price               float64      `json:"price"`
	OriginalPrice       float64      `json:"original_price"`
	ThumbnailURL        string       `json:"thumbnail_url"`
	AllTimeQuantitySold int          `json:"all_time_quantity_sold"`
	Authors             []AuthorData `json:"authors"`
	QuantitySold        *struct {
		Value int `json:"value"`
	} `json:"quantity_sold,omitempty"`
}

// PriceQuote is the current price pair for one item.
type PriceQuote struct {
	PromotionalPrice float64
	OriginalPrice    float64
}
