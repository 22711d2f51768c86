// Package format decides whether an uploaded audio file needs re-encoding
// before it can be served as a seekable deliverable, and what the converted
// file should be called.
package format

import (
	"path/filepath"
	"strings"
)

// CanonicalExt is the container every converted file ends up in. MP3 at a
// constant bitrate seeks reliably in browsers, which the lossy/container
// formats below do not.
const CanonicalExt = ".mp3"

// conversionRequired lists extensions that cannot be served directly:
// either browsers seek poorly in them or the container can carry metadata
// residue that confuses playback.
var conversionRequired = map[string]bool{
	".wma":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".webm": true,
}

// RequiresConversion reports whether the named file must be transcoded
// before it is retained as the playable deliverable. The check is purely
// extension-based and case-insensitive.
func RequiresConversion(filename string) bool {
	return conversionRequired[strings.ToLower(filepath.Ext(filename))]
}

// CanonicalOutputName returns the filename the converted copy should be
// stored under: the original stem with the canonical extension. A name
// without an extension is treated as being all stem.
func CanonicalOutputName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return stem + CanonicalExt
}
