package data

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/networld/internal/action"
	"gopkg.in/yaml.v3"
)

// SpawnPoint is one place a joining user may appear.
type SpawnPoint struct {
	Name     string     `yaml:"name"`
	Position [3]float64 `yaml:"position"`
	Yaw      float64    `yaml:"yaw"` // degrees about +Y
}

// Pose converts the entry to a world pose.
func (p SpawnPoint) Pose() action.Pose {
	return action.Pose{
		Position: mgl64.Vec3(p.Position),
		Rotation: mgl64.QuatRotate(mgl64.DegToRad(p.Yaw), mgl64.Vec3{0, 1, 0}),
	}
}

// WalkableArea is an axis-aligned box that counts as ground.
type WalkableArea struct {
	Name string     `yaml:"name"`
	Min  [3]float64 `yaml:"min"`
	Max  [3]float64 `yaml:"max"`
}

func (a WalkableArea) contains(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < a.Min[i] || p[i] > a.Max[i] {
			return false
		}
	}
	return true
}

type spawnFile struct {
	Spawns   []SpawnPoint   `yaml:"spawns"`
	Walkable []WalkableArea `yaml:"walkable"`
}

// SpawnTable picks spawn poses and answers ground checks for invite
// placement. With no walkable areas configured every position is ground.
type SpawnTable struct {
	points   []SpawnPoint
	walkable []WalkableArea
}

// LoadSpawnTable loads spawn_points.yaml.
func LoadSpawnTable(path string) (*SpawnTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn points: %w", err)
	}
	return ParseSpawnTable(raw)
}

func ParseSpawnTable(raw []byte) (*SpawnTable, error) {
	var f spawnFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn points: %w", err)
	}
	for _, a := range f.Walkable {
		for i := 0; i < 3; i++ {
			if a.Min[i] > a.Max[i] {
				return nil, fmt.Errorf("walkable area %q: min exceeds max on axis %d", a.Name, i)
			}
		}
	}
	return &SpawnTable{points: f.Spawns, walkable: f.Walkable}, nil
}

// RandomSpawn returns one of the configured poses, or the origin facing
// forward when the table is empty.
func (t *SpawnTable) RandomSpawn() action.Pose {
	if len(t.points) == 0 {
		return action.Pose{Rotation: mgl64.QuatIdent()}
	}
	return t.points[rand.Intn(len(t.points))].Pose()
}

func (t *SpawnTable) OnGround(pos mgl64.Vec3) bool {
	if len(t.walkable) == 0 {
		return true
	}
	for _, a := range t.walkable {
		if a.contains(pos) {
			return true
		}
	}
	return false
}

// Count returns the number of spawn points loaded.
func (t *SpawnTable) Count() int {
	return len(t.points)
}
