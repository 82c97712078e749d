package models

// Category is a named bucket of artifacts, usually a lab test type
type Category struct {
	Name  string `json:"name" yaml:"name"`
	Group string `json:"group" yaml:"group"`

	// DashboardURL is handed to clients verbatim and never interpreted
	DashboardURL string `json:"dashboard_url,omitempty" yaml:"dashboard_url"`
}

// CategoryGroup is a display grouping of categories (e.g. "MI", "Chemlab")
type CategoryGroup struct {
	Name       string     `json:"name"`
	Categories []Category `json:"categories"`
}
