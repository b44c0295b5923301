package model

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats aggregates the contents of the store.
type Stats struct {
	TotalEntries      int            `json:"total_entries"`
	ByRole            map[string]int `json:"by_role"`
	ByEntryType       map[string]int `json:"by_entry_type"`
	TopTags           []TagCount     `json:"top_tags"`
	MissingEmbeddings int            `json:"missing_embeddings"`
}
