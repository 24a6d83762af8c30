package model

// Page is the raw content retrieved for one listing URL.
type Page struct {
	URL        string `json:"url"`
	HTML       string `json:"html"`
	Text       string `json:"text"`
	Title      string `json:"title,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}
