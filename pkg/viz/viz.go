package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/collab-ot/pkg/ot"
	"github.com/astromechza/collab-ot/pkg/session"
)

const maxLabelRunes = 40

func excerpt(content string) string {
	r := []rune(content)
	if len(r) <= maxLabelRunes {
		return strconv.Quote(content)
	}
	return strconv.Quote(string(r[:maxLabelRunes])) + "…"
}

// RenderHistory writes the retained history of a session as a chain of
// versions, replaying every entry from the base content.
func RenderHistory(h session.History, outputPath string) error {
	var buff bytes.Buffer
	if err := renderHistory(h, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func renderHistory(h session.History, buff *bytes.Buffer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	prev, err := graph.CreateNode(fmt.Sprintf("v%d", h.BaseVersion))
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	prev.SetLabel(fmt.Sprintf("file %d v%d (base)\n%s", h.FileID, h.BaseVersion, excerpt(h.BaseContent)))

	content := h.BaseContent
	for _, e := range h.Entries {
		if content, err = ot.Apply(content, e.Op); err != nil {
			return fmt.Errorf("failed to replay v%d: %w", e.Version, err)
		}
		n, err := graph.CreateNode(fmt.Sprintf("v%d", e.Version+1))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("v%d\n%s", e.Version+1, excerpt(content)))
		edge, err := graph.CreateEdge(strconv.Itoa(e.Version), prev, n)
		if err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
		edge.SetLabel(e.Op.String())
		prev = n
	}
	if content != h.Content {
		return fmt.Errorf("history of file %d does not replay to its content", h.FileID)
	}

	if err := g.Render(graph, graphviz.SVG, buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

func RenderToTemp(h session.History) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("file-%d-v%d-%d%d.svg", h.FileID, h.Version, time.Now().UnixNano(), rand.Int()))
	if err := RenderHistory(h, tf); err != nil {
		return "", err
	}
	return tf, nil
}
