// Package sbom parses uploaded SBOM documents. Three shapes are accepted:
// CycloneDX JSON (decoded with the cyclonedx-go codec), SPDX JSON (the
// packages list), and a generic components list for tooling that emits
// neither. The document is stored verbatim regardless; parsing only feeds
// the package inventory and the receipt counts.
package sbom

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/package-url/packageurl-go"
)

// Document formats as recorded on the Sbom row
const (
	FormatCycloneDX = "CycloneDX"
	FormatSPDX      = "SPDX"
	FormatUnknown   = "Unknown"
)

// ErrNotObject is returned when the uploaded document is not a JSON object
var ErrNotObject = errors.New("sbom document must be a JSON object")

// Package is one entry of the document's package inventory
type Package struct {
	Name      string
	Version   string
	Purl      string
	Ecosystem string
}

// Document is a parsed SBOM
type Document struct {
	Format      string
	Packages    []Package
	GeneratedAt time.Time // zero when the document carries no timestamp
	Raw         json.RawMessage
}

// ComponentsCount returns the size of the package inventory
func (d *Document) ComponentsCount() int {
	return len(d.Packages)
}

// probe is the minimal shape used to pick a parser
type probe struct {
	BomFormat   string `json:"bomFormat"`
	SpdxVersion string `json:"spdxVersion"`
}

// Parse validates raw as a JSON object and extracts its package inventory
func Parse(raw json.RawMessage) (*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var p probe
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("invalid sbom document: %w", err)
	}

	switch {
	case p.BomFormat == FormatCycloneDX:
		return parseCycloneDX(trimmed)
	case p.SpdxVersion != "":
		return parseSPDX(trimmed)
	default:
		return parseGeneric(trimmed)
	}
}

func parseCycloneDX(raw json.RawMessage) (*Document, error) {
	var bom cdx.BOM
	dec := cdx.NewBOMDecoder(bytes.NewReader(raw), cdx.BOMFileFormatJSON)
	if err := dec.Decode(&bom); err != nil {
		return nil, fmt.Errorf("invalid CycloneDX document: %w", err)
	}

	doc := &Document{
		Format: FormatCycloneDX,
		Raw:    raw,
	}

	if bom.Metadata != nil && bom.Metadata.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, bom.Metadata.Timestamp); err == nil {
			doc.GeneratedAt = ts
		}
	}

	if bom.Components != nil {
		for _, c := range *bom.Components {
			pkg := Package{
				Name:    c.Name,
				Version: c.Version,
			}
			pkg.Purl, pkg.Ecosystem = normalizePurl(c.PackageURL)
			doc.Packages = append(doc.Packages, pkg)
		}
	}

	return doc, nil
}

// spdxDocument is the subset of the SPDX JSON shape used here
type spdxDocument struct {
	CreationInfo struct {
		Created string `json:"created"`
	} `json:"creationInfo"`
	Packages []struct {
		Name         string `json:"name"`
		VersionInfo  string `json:"versionInfo"`
		ExternalRefs []struct {
			ReferenceType    string `json:"referenceType"`
			ReferenceLocator string `json:"referenceLocator"`
		} `json:"externalRefs"`
	} `json:"packages"`
}

func parseSPDX(raw json.RawMessage) (*Document, error) {
	var sd spdxDocument
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("invalid SPDX document: %w", err)
	}

	doc := &Document{
		Format: FormatSPDX,
		Raw:    raw,
	}

	if sd.CreationInfo.Created != "" {
		if ts, err := time.Parse(time.RFC3339, sd.CreationInfo.Created); err == nil {
			doc.GeneratedAt = ts
		}
	}

	for _, p := range sd.Packages {
		pkg := Package{
			Name:    p.Name,
			Version: p.VersionInfo,
		}
		for _, ref := range p.ExternalRefs {
			if ref.ReferenceType == "purl" {
				pkg.Purl, pkg.Ecosystem = normalizePurl(ref.ReferenceLocator)
				break
			}
		}
		doc.Packages = append(doc.Packages, pkg)
	}

	return doc, nil
}

// genericDocument covers tooling that emits a bare components or packages list
type genericDocument struct {
	Components []genericComponent `json:"components"`
	Packages   []genericComponent `json:"packages"`
}

type genericComponent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Purl    string `json:"purl"`
}

func parseGeneric(raw json.RawMessage) (*Document, error) {
	var gd genericDocument
	if err := json.Unmarshal(raw, &gd); err != nil {
		return nil, fmt.Errorf("invalid sbom document: %w", err)
	}

	doc := &Document{
		Format: FormatUnknown,
		Raw:    raw,
	}

	// Prefer the packages list when both are present
	components := gd.Packages
	if len(components) == 0 {
		components = gd.Components
	}

	for _, c := range components {
		pkg := Package{
			Name:    c.Name,
			Version: c.Version,
		}
		pkg.Purl, pkg.Ecosystem = normalizePurl(c.Purl)
		doc.Packages = append(doc.Packages, pkg)
	}

	return doc, nil
}

// normalizePurl canonicalizes a package URL and extracts its ecosystem type.
// An unparseable value is kept as-is with an empty ecosystem; correlation
// falls back to name and version matching for those.
func normalizePurl(raw string) (purl string, ecosystem string) {
	if raw == "" {
		return "", ""
	}

	parsed, err := packageurl.FromString(raw)
	if err != nil {
		return raw, ""
	}

	return parsed.ToString(), parsed.Type
}
