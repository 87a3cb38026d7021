package usecase

import (
	"encoding/json"

	"stratsync-chat/internal/jsonx"
)

// offerProduct is one line of the product list sent to the offer endpoint.
type offerProduct struct {
	UPC             string
	BrandName       string
	SubbrandName    string
	Description     string
	ItemWeight      string
	ItemSize        string
	UOMCode         string
	CountryOfOrigin string
}

// offerCatalog is the fixed product list every offer is generated for.
// Numbers are kept as JSON text so they serialize exactly as written.
var offerCatalog = []offerProduct{
	{"8411061057209", "CALVIN KLEIN", "EUPHORIA MEN", "EDT SPRAY", "0.46", "100", "ML", "US"},
	{"8435415091268", "HUGO", "BOSS MAN", "EDT SPRAY", "0.41", "100", "ML", "ES"},
	{"8057971180561", "CALVIN KLEIN", "CK DEFY", "EDT SPRAY", "0.45", "100", "ML", "ES"},
}

// catalogJSON renders offerCatalog in the column order the offer endpoint
// expects.
func catalogJSON() string {
	items := make([]any, len(offerCatalog))
	for i, p := range offerCatalog {
		row := jsonx.NewObject()
		row.Set("UPC", p.UPC)
		row.Set("BRAND_NAME", p.BrandName)
		row.Set("SUBBRAND_NAME", p.SubbrandName)
		row.Set("DESCRIPTION", p.Description)
		row.Set("ITEM_WEIGHT", json.Number(p.ItemWeight))
		row.Set("ITEM_SIZE", json.Number(p.ItemSize))
		row.Set("UOM_CODE", p.UOMCode)
		row.Set("COUNTRY_OF_ORIGIN", p.CountryOfOrigin)
		items[i] = row
	}
	return jsonx.String(items)
}
