package publish

import (
	"encoding/xml"
	"fmt"

	"curator/internal/catalog"
)

// nfoDocument is the minimal NFO shape understood by common players. Richer
// templating is an external collaborator; this renderer covers the daemon's
// standalone operation.
type nfoDocument struct {
	XMLName xml.Name `xml:"movie"`
	Title   string   `xml:"title"`
	Year    int      `xml:"year,omitempty"`
	Arts    []nfoArt `xml:"art>entry,omitempty"`
}

type nfoArt struct {
	Type string `xml:"type,attr"`
	URL  string `xml:"url"`
}

// XMLRenderer renders a compact XML NFO from entity fields and the current
// selections.
type XMLRenderer struct{}

// Render implements NFORenderer.
func (XMLRenderer) Render(entity *catalog.Entity, selections []*catalog.AssetCandidate) ([]byte, error) {
	doc := nfoDocument{
		Title: entity.Title,
		Year:  entity.Year,
	}
	if entity.EntityType != catalog.EntityMovie {
		doc.XMLName = xml.Name{Local: string(entity.EntityType)}
	}
	for _, selection := range selections {
		doc.Arts = append(doc.Arts, nfoArt{Type: selection.AssetType, URL: selection.URL})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render nfo: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}
