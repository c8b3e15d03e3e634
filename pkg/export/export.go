// Package export renders a flow snapshot into static artifacts: a PNG diagram, a printable
// HTML guide, and a zip bundle of both. Every renderer is a pure function of the flow it
// is given and never modifies it.
package export

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/dukex/processflow/pkg/models"
)

// ErrExportFailed wraps every rendering failure. It is never fatal to the caller's state.
var ErrExportFailed = errors.New("export failed")

// Kind names an export artifact.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindGuide    Kind = "guide"
	KindBundle   Kind = "bundle"
)

// ParseKind accepts the artifact names used in URLs.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSnapshot, KindGuide, KindBundle:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown export kind %q", ErrExportFailed, s)
	}
}

// ContentType returns the MIME type of the artifact.
func (k Kind) ContentType() string {
	switch k {
	case KindSnapshot:
		return "image/png"
	case KindGuide:
		return "text/html; charset=utf-8"
	case KindBundle:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// Filename suggests a download name for the artifact of flow.
func (k Kind) Filename(flow *models.Flow) string {
	ext := map[Kind]string{KindSnapshot: "png", KindGuide: "html", KindBundle: "zip"}[k]

	return fmt.Sprintf("flow-%d-v%d-%s.%s", flow.ID, flow.Version, k, ext)
}

// Media resolves screenshot and video references against the media store's base URL.
type Media struct {
	base *url.URL
}

// NewMedia parses the media base URL. An empty base leaves references untouched.
func NewMedia(baseURL string) (Media, error) {
	if baseURL == "" {
		return Media{}, nil
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return Media{}, fmt.Errorf("invalid media base url: %w", err)
	}

	return Media{base: base}, nil
}

// Resolve returns the absolute URL of a media reference. Absolute references and empty
// references are returned unchanged.
func (m Media) Resolve(ref string) string {
	if ref == "" || m.base == nil {
		return ref
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref
	}

	return m.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(parsed.Path, "/"), RawQuery: parsed.RawQuery}).String()
}

// Render writes the artifact of the given kind.
func Render(w io.Writer, kind Kind, flow *models.Flow, media Media) error {
	switch kind {
	case KindSnapshot:
		return Snapshot(w, flow, SnapshotOptions{})
	case KindGuide:
		return Guide(w, flow, media)
	case KindBundle:
		return Bundle(w, flow, media)
	default:
		return fmt.Errorf("%w: unknown export kind %q", ErrExportFailed, kind)
	}
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExportFailed, fmt.Sprintf(format, args...))
}
