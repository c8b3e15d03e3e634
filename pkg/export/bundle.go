package export

import (
	"archive/zip"
	"encoding/json"
	"io"
	"time"

	"github.com/dukex/processflow/pkg/models"
)

// Manifest describes the contents of a bundle.
type Manifest struct {
	FlowID         int64                 `json:"flow_id"`
	Name           string                `json:"name"`
	Version        int64                 `json:"version"`
	ApprovalStatus models.ApprovalStatus `json:"approval_status"`
	Steps          int                   `json:"steps"`
	Media          []string              `json:"media"`
	Files          []string              `json:"files"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

const (
	bundleGuideFile    = "guide.html"
	bundleSnapshotFile = "snapshot.png"
	bundleManifestFile = "manifest.json"
)

// Bundle writes a zip archive with the guide, the snapshot and a manifest listing the
// resolved media references. Media files themselves stay in the media store.
func Bundle(w io.Writer, flow *models.Flow, media Media) error {
	if flow == nil {
		return failed("no flow to render")
	}

	archive := zip.NewWriter(w)

	entries := []struct {
		name   string
		render func(io.Writer) error
	}{
		{name: bundleGuideFile, render: func(w io.Writer) error { return Guide(w, flow, media) }},
		{name: bundleSnapshotFile, render: func(w io.Writer) error { return Snapshot(w, flow, SnapshotOptions{}) }},
		{name: bundleManifestFile, render: func(w io.Writer) error {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")

			return encoder.Encode(manifest(flow, media))
		}},
	}

	for _, entry := range entries {
		file, err := archive.Create(entry.name)
		if err != nil {
			return failed("create %s: %v", entry.name, err)
		}

		err = entry.render(file)
		if err != nil {
			return failed("%s: %v", entry.name, err)
		}
	}

	err := archive.Close()
	if err != nil {
		return failed("close bundle: %v", err)
	}

	return nil
}

func manifest(flow *models.Flow, media Media) Manifest {
	refs := []string{}

	if flow.SummaryVideoRef != "" {
		refs = append(refs, media.Resolve(flow.SummaryVideoRef))
	}

	for _, node := range flow.Nodes {
		for _, ref := range []string{node.ScreenshotRef, node.VideoClipRef} {
			if ref != "" {
				refs = append(refs, media.Resolve(ref))
			}
		}
	}

	return Manifest{
		FlowID:         flow.ID,
		Name:           flow.Name,
		Version:        flow.Version,
		ApprovalStatus: flow.ApprovalStatus,
		Steps:          len(flow.Nodes),
		Media:          refs,
		Files:          []string{bundleGuideFile, bundleSnapshotFile, bundleManifestFile},
		GeneratedAt:    time.Now().UTC(),
	}
}
