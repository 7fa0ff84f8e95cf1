// Package decode recovers the display text and an optional image reference
// from assistant response bodies.
//
// The backend answers either with plain markdown, with a raw JSON object, or
// with a JSON object fenced inside a ```json code block. When the object
// carries both a "text" and an "image_path" field, the image is served by the
// backend's image endpoint under the final path segment of image_path.
//
// Decoding never fails: anything that is not a recognisable payload is
// returned verbatim as text.
package decode

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// DefaultImageBaseURL is the image-serving endpoint of a local backend.
const DefaultImageBaseURL = "http://localhost:8000/image"

// fencedJSON matches the first ```json fenced block holding a JSON object.
var fencedJSON = regexp.MustCompile("```json\\s*(\\{[^`]*\\})\\s*```")

// Image is an image reference produced by the backend.
type Image struct {
	// Path is the path exactly as the backend returned it.
	Path string `json:"path"`
	// Filename is the final segment of Path.
	Filename string `json:"filename"`
	// URL is where the image can be retrieved from.
	URL string `json:"url"`
}

// Result is the outcome of decoding a response body.
type Result struct {
	Text  string `json:"text"`
	Image *Image `json:"image,omitempty"`
}

// Decoder turns response bodies into a Result.
// The zero value resolves images against DefaultImageBaseURL.
type Decoder struct {
	// ImageBaseURL is the base URL of the image endpoint (e.g.
	// "http://localhost:8000/image").
	ImageBaseURL string
}

// New returns a Decoder resolving images against imageBaseURL.
func New(imageBaseURL string) *Decoder {
	return &Decoder{ImageBaseURL: imageBaseURL}
}

// Decode extracts the display text and image reference from body.
func (d *Decoder) Decode(body string) Result {
	payload, ok := extractJSON(body)
	if !ok {
		return Result{Text: body}
	}

	text, _ := payload["text"].(string)
	imagePath, _ := payload["image_path"].(string)
	if text == "" || imagePath == "" {
		return Result{Text: body}
	}

	filename := Filename(imagePath)
	return Result{
		Text: text,
		Image: &Image{
			Path:     imagePath,
			Filename: filename,
			URL:      d.imageURL(filename),
		},
	}
}

// Decode decodes body with a zero Decoder.
func Decode(body string) Result {
	var d Decoder
	return d.Decode(body)
}

// extractJSON finds the JSON object carried by body. A ```json fence takes
// priority; when there is no fence the whole body is parsed. A fence whose
// content does not parse is not retried as a raw body.
func extractJSON(body string) (map[string]any, bool) {
	candidate := body
	if m := fencedJSON.FindStringSubmatch(body); m != nil {
		candidate = m[1]
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, false
	}
	return payload, payload != nil
}

// Filename returns the last segment of an image path. Backslash-separated
// paths are split on '\', everything else on '/'.
func Filename(path string) string {
	sep := "/"
	if strings.Contains(path, `\`) {
		sep = `\`
	}
	parts := strings.Split(path, sep)
	return parts[len(parts)-1]
}

// imageURL appends the escaped filename to the base as a single segment.
// Dot segments are kept as-is.
func (d *Decoder) imageURL(filename string) string {
	base := d.ImageBaseURL
	if base == "" {
		base = DefaultImageBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(filename)
}
