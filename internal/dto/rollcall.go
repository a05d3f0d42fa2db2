package dto

// RollCallExportFormat selects the export renderer.
type RollCallExportFormat string

const (
	RollCallExportCSV RollCallExportFormat = "csv"
	RollCallExportPDF RollCallExportFormat = "pdf"
)

// RollCallExportQuery is bound from the export endpoint's query string.
type RollCallExportQuery struct {
	Format RollCallExportFormat `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// RollCallExport is a rendered roll-call document.
type RollCallExport struct {
	Filename    string
	ContentType string
	Body        []byte
}
