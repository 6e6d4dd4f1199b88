package world

import (
	"encoding/json"
	"fmt"
)

// ComponentKind identifies a component variant on the wire and in snapshots.
type ComponentKind string

const (
	ComponentPosition   ComponentKind = "Position"
	ComponentVelocity   ComponentKind = "Velocity"
	ComponentHealth     ComponentKind = "Health"
	ComponentSprite     ComponentKind = "Sprite"
	ComponentPlayerInfo ComponentKind = "PlayerInfo"
)

// Position carries world-space coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Velocity carries a per-second movement vector.
type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Health carries current and maximum hit points.
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Sprite identifies the visual the rendering layer should draw. The sync
// core never interprets it.
type Sprite struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
}

// PlayerInfo labels an entity as the avatar of a player.
type PlayerInfo struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// Component is the tagged union carried by snapshots and deltas. Exactly one
// payload pointer is set, matching Kind. Payloads hold only primitive fields;
// no pointers into the world may leak through a Component.
type Component struct {
	Kind       ComponentKind
	Position   *Position
	Velocity   *Velocity
	Health     *Health
	Sprite     *Sprite
	PlayerInfo *PlayerInfo
}

// NewPosition wraps coordinates into a Component.
func NewPosition(x, y float64) Component {
	return Component{Kind: ComponentPosition, Position: &Position{X: x, Y: y}}
}

// NewVelocity wraps a movement vector into a Component.
func NewVelocity(x, y float64) Component {
	return Component{Kind: ComponentVelocity, Velocity: &Velocity{X: x, Y: y}}
}

// NewHealth wraps hit points into a Component.
func NewHealth(current, max int) Component {
	return Component{Kind: ComponentHealth, Health: &Health{Current: current, Max: max}}
}

// NewSprite wraps a sprite reference into a Component.
func NewSprite(id string, visible bool) Component {
	return Component{Kind: ComponentSprite, Sprite: &Sprite{ID: id, Visible: visible}}
}

// NewPlayerInfo wraps player identity into a Component.
func NewPlayerInfo(playerID, name string) Component {
	return Component{Kind: ComponentPlayerInfo, PlayerInfo: &PlayerInfo{PlayerID: playerID, Name: name}}
}

// Clone returns a deep copy so snapshots never alias live world state.
func (c Component) Clone() Component {
	out := Component{Kind: c.Kind}
	switch {
	case c.Position != nil:
		copied := *c.Position
		out.Position = &copied
	case c.Velocity != nil:
		copied := *c.Velocity
		out.Velocity = &copied
	case c.Health != nil:
		copied := *c.Health
		out.Health = &copied
	case c.Sprite != nil:
		copied := *c.Sprite
		out.Sprite = &copied
	case c.PlayerInfo != nil:
		copied := *c.PlayerInfo
		out.PlayerInfo = &copied
	}
	return out
}

// Equal reports whether two components carry the same kind and payload.
func (c Component) Equal(other Component) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case ComponentPosition:
		return c.Position != nil && other.Position != nil && *c.Position == *other.Position
	case ComponentVelocity:
		return c.Velocity != nil && other.Velocity != nil && *c.Velocity == *other.Velocity
	case ComponentHealth:
		return c.Health != nil && other.Health != nil && *c.Health == *other.Health
	case ComponentSprite:
		return c.Sprite != nil && other.Sprite != nil && *c.Sprite == *other.Sprite
	case ComponentPlayerInfo:
		return c.PlayerInfo != nil && other.PlayerInfo != nil && *c.PlayerInfo == *other.PlayerInfo
	default:
		return false
	}
}

type componentEnvelope struct {
	Kind ComponentKind `json:"type"`
	X    *float64      `json:"x,omitempty"`
	Y    *float64      `json:"y,omitempty"`

	Current *int `json:"current,omitempty"`
	Max     *int `json:"max,omitempty"`

	ID      *string `json:"id,omitempty"`
	Visible *bool   `json:"visible,omitempty"`

	PlayerID *string `json:"player_id,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// MarshalJSON flattens the active payload next to the "type" discriminator,
// matching the documented wire shape.
func (c Component) MarshalJSON() ([]byte, error) {
	env := componentEnvelope{Kind: c.Kind}
	switch c.Kind {
	case ComponentPosition:
		if c.Position == nil {
			return nil, fmt.Errorf("position component missing payload")
		}
		env.X, env.Y = &c.Position.X, &c.Position.Y
	case ComponentVelocity:
		if c.Velocity == nil {
			return nil, fmt.Errorf("velocity component missing payload")
		}
		env.X, env.Y = &c.Velocity.X, &c.Velocity.Y
	case ComponentHealth:
		if c.Health == nil {
			return nil, fmt.Errorf("health component missing payload")
		}
		env.Current, env.Max = &c.Health.Current, &c.Health.Max
	case ComponentSprite:
		if c.Sprite == nil {
			return nil, fmt.Errorf("sprite component missing payload")
		}
		env.ID, env.Visible = &c.Sprite.ID, &c.Sprite.Visible
	case ComponentPlayerInfo:
		if c.PlayerInfo == nil {
			return nil, fmt.Errorf("player info component missing payload")
		}
		env.PlayerID, env.Name = &c.PlayerInfo.PlayerID, &c.PlayerInfo.Name
	default:
		return nil, fmt.Errorf("unknown component kind %q", c.Kind)
	}
	return json.Marshal(env)
}

// UnmarshalJSON dispatches on the "type" discriminator. Unknown kinds are an
// error so callers can drop the message instead of storing garbage.
func (c *Component) UnmarshalJSON(data []byte) error {
	var env componentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case ComponentPosition:
		c.Position = &Position{X: deref(env.X), Y: deref(env.Y)}
	case ComponentVelocity:
		c.Velocity = &Velocity{X: deref(env.X), Y: deref(env.Y)}
	case ComponentHealth:
		c.Health = &Health{Current: derefInt(env.Current), Max: derefInt(env.Max)}
	case ComponentSprite:
		sprite := Sprite{Visible: env.Visible != nil && *env.Visible}
		if env.ID != nil {
			sprite.ID = *env.ID
		}
		c.Sprite = &sprite
	case ComponentPlayerInfo:
		info := PlayerInfo{}
		if env.PlayerID != nil {
			info.PlayerID = *env.PlayerID
		}
		if env.Name != nil {
			info.Name = *env.Name
		}
		c.PlayerInfo = &info
	default:
		return fmt.Errorf("unknown component kind %q", env.Kind)
	}
	c.Kind = env.Kind
	return nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
