package export_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFlow() *models.Flow {
	return &models.Flow{
		ID:              42,
		Name:            "Create purchase order",
		ApprovalStatus:  models.ApprovalStatusReviewed,
		Version:         3,
		SummaryVideoRef: "videos/42/summary.mp4",
		Nodes: []models.StepNode{
			{
				ID: "2", Label: "Open ME21N", System: "SAP",
				ExpectedResult: "Create PO screen is shown",
				ScreenshotRef:  "shots/42/2.png",
				Position:       models.Position{X: 0, Y: 120},
			},
			{
				ID: "1", Label: "Login <admin>", System: "SAP",
				Notes:        "Use the shared account",
				VideoClipRef: "https://cdn.example.com/clips/1.mp4",
				Position:     models.Position{X: 0, Y: 0},
			},
		},
		Edges: []models.Transition{
			{ID: "e1-2", Source: "1", Target: "2"},
			{ID: "e2-9", Source: "2", Target: "9"},
		},
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    export.Kind
		wantErr bool
	}{
		{input: "snapshot", want: export.KindSnapshot},
		{input: "guide", want: export.KindGuide},
		{input: "bundle", want: export.KindBundle},
		{input: "pdf", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := export.ParseKind(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, export.ErrExportFailed)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_Filename(t *testing.T) {
	flow := sampleFlow()

	assert.Equal(t, "flow-42-v3-snapshot.png", export.KindSnapshot.Filename(flow))
	assert.Equal(t, "flow-42-v3-guide.html", export.KindGuide.Filename(flow))
	assert.Equal(t, "flow-42-v3-bundle.zip", export.KindBundle.Filename(flow))
	assert.Equal(t, "application/zip", export.KindBundle.ContentType())
}

func TestMedia_Resolve(t *testing.T) {
	media, err := export.NewMedia("https://media.example.com/store")
	require.NoError(t, err)

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{name: "relative", ref: "shots/1.png", want: "https://media.example.com/store/shots/1.png"},
		{name: "leading slash", ref: "/shots/1.png", want: "https://media.example.com/store/shots/1.png"},
		{name: "absolute", ref: "https://cdn.example.com/a.mp4", want: "https://cdn.example.com/a.mp4"},
		{name: "empty", ref: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, media.Resolve(tt.ref))
		})
	}

	var unset export.Media
	assert.Equal(t, "shots/1.png", unset.Resolve("shots/1.png"))
}

func TestSnapshot(t *testing.T) {
	flow := sampleFlow()

	var buf bytes.Buffer
	require.NoError(t, export.Snapshot(&buf, flow, export.SnapshotOptions{}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)

	// 180 wide node plus 24 padding each side; 120 vertical spread plus a 48 high node.
	assert.Equal(t, 228, img.Bounds().Dx())
	assert.Equal(t, 216, img.Bounds().Dy())
}

func TestSnapshot_EmptyFlow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.Snapshot(&buf, &models.Flow{ID: 1}, export.SnapshotOptions{}))

	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestSnapshot_Failures(t *testing.T) {
	tests := []struct {
		name string
		flow *models.Flow
	}{
		{name: "nil flow", flow: nil},
		{name: "non finite position", flow: &models.Flow{Nodes: []models.StepNode{
			{ID: "1", Position: models.Position{X: math.NaN()}},
		}}},
		{name: "too large", flow: &models.Flow{Nodes: []models.StepNode{
			{ID: "1", Position: models.Position{X: 0}},
			{ID: "2", Position: models.Position{X: 100000}},
		}}},
		{name: "span overflows int", flow: &models.Flow{Nodes: []models.StepNode{
			{ID: "1", Position: models.Position{X: 0}},
			{ID: "2", Position: models.Position{X: 1e19}},
		}}},
		{name: "negative span overflows int", flow: &models.Flow{Nodes: []models.StepNode{
			{ID: "1", Position: models.Position{Y: -1e19}},
			{ID: "2", Position: models.Position{Y: 1e19}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := export.Snapshot(io.Discard, tt.flow, export.SnapshotOptions{})
			assert.ErrorIs(t, err, export.ErrExportFailed)
		})
	}
}

func TestGuide(t *testing.T) {
	media, err := export.NewMedia("https://media.example.com/")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, export.Guide(&buf, sampleFlow(), media))

	html := buf.String()

	first := strings.Index(html, "1. Open ME21N")
	second := strings.Index(html, "2. Login &lt;admin&gt;")

	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "sections follow store order")

	assert.NotContains(t, html, "<admin>")
	assert.Contains(t, html, "https://media.example.com/shots/42/2.png")
	assert.Contains(t, html, "https://cdn.example.com/clips/1.mp4")
	assert.Contains(t, html, "https://media.example.com/videos/42/summary.mp4")
	assert.Contains(t, html, "Create PO screen is shown")
}

func TestGuide_NilFlow(t *testing.T) {
	var buf bytes.Buffer

	err := export.Guide(&buf, nil, export.Media{})
	require.ErrorIs(t, err, export.ErrExportFailed)
	assert.Zero(t, buf.Len())
}

func TestBundle(t *testing.T) {
	media, err := export.NewMedia("https://media.example.com")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, export.Bundle(&buf, sampleFlow(), media))

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	files := map[string][]byte{}

	for _, f := range reader.File {
		rc, err := f.Open()
		require.NoError(t, err)

		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		files[f.Name] = content
	}

	require.Len(t, files, 3)

	_, err = png.Decode(bytes.NewReader(files["snapshot.png"]))
	require.NoError(t, err)
	assert.Contains(t, string(files["guide.html"]), "Open ME21N")

	var manifest export.Manifest
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	assert.Equal(t, int64(42), manifest.FlowID)
	assert.Equal(t, int64(3), manifest.Version)
	assert.Equal(t, 2, manifest.Steps)
	assert.Equal(t, []string{
		"https://media.example.com/videos/42/summary.mp4",
		"https://media.example.com/shots/42/2.png",
		"https://cdn.example.com/clips/1.mp4",
	}, manifest.Media)
}

func TestRender_DoesNotMutateFlow(t *testing.T) {
	for _, kind := range []export.Kind{export.KindSnapshot, export.KindGuide, export.KindBundle} {
		t.Run(string(kind), func(t *testing.T) {
			flow := sampleFlow()
			before := flow.Clone()

			require.NoError(t, export.Render(io.Discard, kind, flow, export.Media{}))
			assert.Equal(t, before, flow)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRender_WriterFailure(t *testing.T) {
	for _, kind := range []export.Kind{export.KindSnapshot, export.KindGuide, export.KindBundle} {
		t.Run(string(kind), func(t *testing.T) {
			err := export.Render(failingWriter{}, kind, sampleFlow(), export.Media{})
			assert.ErrorIs(t, err, export.ErrExportFailed)
		})
	}
}
