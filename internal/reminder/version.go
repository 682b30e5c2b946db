package reminder

// Version constants for the export format and the binary.
const (
	// EnvelopeVersion is the export envelope format version.
	EnvelopeVersion = "2.0"

	// AppVersion is the remindr release version.
	AppVersion = "0.3.0"
)
