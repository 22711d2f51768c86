// Package transcript defines the transcript produced by a pipeline run and
// the optional on-disk persistence of it.
package transcript

// Word is a single spoken word with its position in the audio, in seconds.
// Start and End are non-negative, Start <= End, both rounded to two decimal
// places. Word text carries no leading or trailing whitespace.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a raw engine segment, kept for consumers that want
// coarser-grained timing than individual words.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Record is the assembled result of one pipeline run. It is built once by
// the orchestrator and not modified afterwards.
type Record struct {
	Text     string    `json:"text"`
	Words    []Word    `json:"words"`
	Segments []Segment `json:"segments,omitempty"`
	Language string    `json:"language"`

	// ConvertedFilename and OriginalFilename are set only when the upload
	// was transcoded; the converted file is then the retained deliverable.
	ConvertedFilename string `json:"converted_filename,omitempty"`
	OriginalFilename  string `json:"original_filename,omitempty"`

	// AudioURL is the public URL of the retained audio artifact.
	AudioURL string `json:"audio_url,omitempty"`
}
