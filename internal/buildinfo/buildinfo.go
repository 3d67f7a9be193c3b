package buildinfo

// Metadata captures static identifiers for the service. Centralising the
// values keeps the binaries and log fields consistent.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	Version     string
}

// Info describes the current build.
var Info = Metadata{
	Name:        "Twinscribe",
	BinaryName:  "twinscribed",
	Slug:        "twinscribe",
	Description: "Real-time hybrid speech-to-text pipeline.",
	Version:     "0.1.0",
}
