package models

import "time"

// Storage types recorded on an Sbom row, derived from the artifact locator.
const (
	StorageTypeS3    = "s3"
	StorageTypeGCS   = "gcs"
	StorageTypeAzure = "azure"
	StorageTypeLocal = "local"
)

// Sbom represents one ingested bill-of-materials document. Component and
// vulnerability counts are snapshots taken at ingestion time and are never
// recomputed in place.
type Sbom struct {
	ID                   string
	ProjectID            string
	StorageURL           string // locator into the artifact store, or a local-reference marker
	StorageType          string
	Format               string // SPDX, CycloneDX, or Unknown
	Tool                 string // generating tool, from sync metadata
	CommitHash           string
	ComponentsCount      int
	VulnerabilitiesFound int
	GeneratedAt          time.Time
	CreatedAt            time.Time
}

// Finding represents one vulnerability match for one package of an SBOM.
// Findings are written once per ingestion and never mutated.
type Finding struct {
	ID              string
	SbomID          string
	PackageName     string
	PackageVersion  string
	Purl            string
	VulnerabilityID string
	Severity        string
	AffectedRange   string
	FixedVersion    string
	CreatedAt       time.Time
}
