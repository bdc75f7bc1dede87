// Package world captures a scene into the grid-backed Environment that queries read.
package world

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// SceneObject is what a host reports for one object in its scene.
type SceneObject struct {
	ID   string
	Name string
	Tag  string
	// Position is the object pivot.
	Position spatial.Vec3
	// Bounds are the renderable bounds; nil for objects that render nothing.
	Bounds *spatial.AABB
	// Movable marks objects with a physics body or controller.
	Movable    bool
	Properties params.Params
	// Volume, when set, stamps its properties onto every cell inside its bounds.
	Volume *PropertyVolume
}

// PropertyVolume is an axis-aligned region whose properties override the
// defaults of the cells it covers.
type PropertyVolume struct {
	Bounds     spatial.AABB
	Properties params.Params
}

// Scene is a host scene and the oracle that answers physics queries against it.
type Scene struct {
	ID      string
	Objects []SceneObject
	Oracle  oracle.Oracle
}

// SceneSource enumerates scene objects. It is implemented by the host.
type SceneSource interface {
	LoadScene(ctx context.Context, sceneID string) (*Scene, error)
}

// StaticSource serves prebuilt scenes from memory. The empty id selects the
// first scene.
type StaticSource struct {
	scenes []*Scene
}

// NewStaticSource serves scenes in the given order.
func NewStaticSource(scenes ...*Scene) *StaticSource {
	return &StaticSource{scenes: scenes}
}

func (s *StaticSource) LoadScene(ctx context.Context, sceneID string) (*Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, sc := range s.scenes {
		if sceneID == "" || strings.EqualFold(sc.ID, sceneID) {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", sceneID, eqserr.ErrSceneNotFound)
}

// SceneIDs lists the served scenes in declaration order.
func (s *StaticSource) SceneIDs() []string {
	ids := make([]string, len(s.scenes))
	for i, sc := range s.scenes {
		ids[i] = sc.ID
	}
	return ids
}
