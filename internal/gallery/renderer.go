package gallery

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Export is a point-in-time dump of a gallery.
type Export struct {
	Directory   string    `json:"directory"`
	GeneratedAt time.Time `json:"generated_at"`
	Images      []Image   `json:"images"`
}

// Renderer serializes an Export to bytes.
type Renderer interface {
	Render(export *Export) ([]byte, error)
}

// RendererFor returns the renderer registered under format.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return &MarkdownRenderer{}, nil
	case "json":
		return &JSONRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want markdown or json)", format)
	}
}

// JSONRenderer renders an Export as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(export *Export) ([]byte, error) {
	return json.MarshalIndent(export, "", "  ")
}

// MarkdownRenderer renders an Export as a Markdown table.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(export *Export) ([]byte, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Gallery: %s\n\n", export.Directory)
	fmt.Fprintf(&sb, "- Generated: %s\n", export.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Images: %d\n\n", len(export.Images))

	sb.WriteString("## Images\n\n")
	if len(export.Images) == 0 {
		sb.WriteString("_No images._\n")
		return []byte(sb.String()), nil
	}

	sb.WriteString("| # | File | Modified |\n")
	sb.WriteString("|---|------|----------|\n")
	for i, img := range export.Images {
		fmt.Fprintf(&sb, "| %d | [%s](%s) | %s |\n",
			i+1,
			filepath.Base(img.Path),
			img.Path,
			img.ModTime().Format("2006-01-02 15:04:05"),
		)
	}
	return []byte(sb.String()), nil
}
