package models

// SourceDocument is a scholarly reference returned by the retrieval capability.
type SourceDocument struct {
	PaperID  string   `json:"paper_id,omitempty"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	ArXivID  string   `json:"arxiv_id,omitempty"`
	URL      string   `json:"url,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
}
