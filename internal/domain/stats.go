package domain

// MarketStats is a snapshot of the running marketplace counters.
type MarketStats struct {
	VolumeByCurrency map[string]Amount `json:"volume_by_currency"`
	SalesCount       int64             `json:"sales_count"`
	ActiveListings   int64             `json:"active_listings"`
	TotalListings    int64             `json:"total_listings"`
	BidsCount        int64             `json:"bids_count"`
	OffersCount      int64             `json:"offers_count"`
	Participants     int64             `json:"unique_participants"`
	AvgSalePrice     map[string]Amount `json:"avg_sale_price"`
}
