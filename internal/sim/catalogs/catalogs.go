package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Catalogs holds the static item template catalog. The authority and every
// client load the same files; the digest in WELCOME lets a client detect a
// mismatch.
type Catalogs struct {
	Templates TemplateCatalog
}

type TemplateCatalog struct {
	Palette []string
	Defs    map[string]TemplateDef
	Digest  string
}

// TemplateDef is the prototype an instance references by template id.
type TemplateDef struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"` // "FURNITURE","STRUCTURE","DECOR","MECH"
	BoundingSize [3]float64 `json:"bounding_size"`
	Parts        []PartDef  `json:"parts,omitempty"`

	Placeable      bool `json:"placeable"`
	RequiresGround bool `json:"requires_ground"`
}

type PartDef struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Tint       string     `json:"tint,omitempty"`
	Finish     string     `json:"finish,omitempty"`
	Opacity    float64    `json:"opacity,omitempty"`
	Size       [3]float64 `json:"size,omitempty"`
	Collidable bool       `json:"collidable"`
	Fixed      bool       `json:"fixed"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadTemplates(filepath.Join(configDir, "items.json"), &c.Templates); err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve is the catalog collaborator interface: template id to prototype.
func (c *Catalogs) Resolve(templateID string) (TemplateDef, bool) {
	d, ok := c.Templates.Defs[templateID]
	return d, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadTemplates(path string, out *TemplateCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []TemplateDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]TemplateDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		if d.BoundingSize[0] <= 0 || d.BoundingSize[1] <= 0 || d.BoundingSize[2] <= 0 {
			return fmt.Errorf("items.json: %s: non-positive bounding_size", d.ID)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	return nil
}
