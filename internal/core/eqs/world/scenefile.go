package world

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// SceneFile is the YAML description of one or more scenes, used by the daemon
// when no engine host is attached.
type SceneFile struct {
	Scenes []SceneSpec `yaml:"scenes"`
}

type SceneSpec struct {
	ID      string       `yaml:"id"`
	Objects []ObjectSpec `yaml:"objects"`
}

type ObjectSpec struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Tag        string            `yaml:"tag"`
	Position   *spatial.Vec3     `yaml:"position"`
	Bounds     *spatial.AABB     `yaml:"bounds"`
	Movable    bool              `yaml:"movable"`
	Solid      *bool             `yaml:"solid"`
	Colliders  []oracle.Collider `yaml:"colliders"`
	Properties params.Params     `yaml:"properties"`
	Volume     *VolumeSpec       `yaml:"volume"`
}

type VolumeSpec struct {
	Bounds     spatial.AABB  `yaml:"bounds"`
	Properties params.Params `yaml:"properties"`
}

// LoadSceneFile reads a YAML scene file from disk.
func LoadSceneFile(path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSceneFile(f)
}

// ParseSceneFile decodes YAML scenes and builds a geometry oracle for each.
func ParseSceneFile(r io.Reader) (*StaticSource, error) {
	var sf SceneFile
	if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
		return nil, fmt.Errorf("decode scene file: %w", err)
	}
	if len(sf.Scenes) == 0 {
		return nil, fmt.Errorf("scene file declares no scenes")
	}
	scenes := make([]*Scene, 0, len(sf.Scenes))
	for i, spec := range sf.Scenes {
		sc, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("scene %d (%s): %w", i, spec.ID, err)
		}
		scenes = append(scenes, sc)
	}
	return NewStaticSource(scenes...), nil
}

func (s SceneSpec) build() (*Scene, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("scene id is required")
	}
	seen := make(map[string]struct{}, len(s.Objects))
	objects := make([]SceneObject, 0, len(s.Objects))
	handles := make([]oracle.Object, 0, len(s.Objects))
	for i, o := range s.Objects {
		if o.ID == "" {
			return nil, fmt.Errorf("object %d: id is required", i)
		}
		if _, dup := seen[o.ID]; dup {
			return nil, fmt.Errorf("object %q declared twice", o.ID)
		}
		seen[o.ID] = struct{}{}

		obj := SceneObject{
			ID:         o.ID,
			Name:       o.Name,
			Tag:        o.Tag,
			Movable:    o.Movable,
			Properties: o.Properties,
		}
		if obj.Name == "" {
			obj.Name = o.ID
		}
		if o.Bounds != nil {
			b := o.Bounds.Canon()
			obj.Bounds = &b
			obj.Position = b.Center()
		}
		if o.Position != nil {
			obj.Position = *o.Position
		}
		if o.Volume != nil {
			obj.Volume = &PropertyVolume{Bounds: o.Volume.Bounds.Canon(), Properties: o.Volume.Properties}
		}
		objects = append(objects, obj)

		colliders := append([]oracle.Collider(nil), o.Colliders...)
		solid := o.Solid == nil || *o.Solid
		if len(colliders) == 0 && obj.Bounds != nil && solid {
			colliders = append(colliders, oracle.Collider{Bounds: *obj.Bounds})
		}
		handles = append(handles, oracle.Object{
			ID:        obj.ID,
			Name:      obj.Name,
			Tag:       obj.Tag,
			Position:  obj.Position,
			Colliders: colliders,
		})
	}
	return &Scene{ID: s.ID, Objects: objects, Oracle: oracle.NewGeometry(handles)}, nil
}
