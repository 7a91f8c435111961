package changeset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/deskbridge/deskbridge-gateway/internal/sections"
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
)

var ErrMissingID = errors.New("changeset: missing id")

// wireEvent is the JSON shape accepted by the ingest endpoint.
type wireEvent struct {
	Name      string            `json:"name"`
	IsAsync   bool              `json:"is_async"`
	SurfaceID string            `json:"surface_id"`
	ID        string            `json:"id"`
	Tree      []json.RawMessage `json:"tree"`
	Changeset *sdk.Object       `json:"changeset"`
}

// DecodeEvent reads one changeset event. Tree nodes and changeset values are
// kept as raw JSON so they reach the inspector byte for byte.
func DecodeEvent(r io.Reader) (sections.ChangesetEvent, error) {
	var w wireEvent
	dec := json.NewDecoder(r)
	if err := dec.Decode(&w); err != nil {
		return sections.ChangesetEvent{}, fmt.Errorf("decode changeset: %w", err)
	}
	if strings.TrimSpace(w.ID) == "" {
		return sections.ChangesetEvent{}, ErrMissingID
	}

	tree := make(sdk.Array, 0, len(w.Tree))
	for _, n := range w.Tree {
		tree = append(tree, n)
	}
	data := w.Changeset
	if data == nil {
		data = sdk.NewObject()
	}
	return sections.ChangesetEvent{
		Name:          w.Name,
		IsAsync:       w.IsAsync,
		SurfaceID:     w.SurfaceID,
		ID:            sections.GenerationID(w.ID),
		Tree:          tree,
		ChangesetData: data,
	}, nil
}
