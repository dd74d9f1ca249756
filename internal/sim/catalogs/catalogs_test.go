package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeItems(t *testing.T, raw string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadResolvesTemplates(t *testing.T) {
	dir := writeItems(t, `[
	  {"id":"brick","kind":"STRUCTURE","bounding_size":[1,1,1],"placeable":true},
	  {"id":"bench","kind":"FURNITURE","bounding_size":[2,1,0.8],"placeable":true,"requires_ground":true,
	   "parts":[{"index":0,"name":"seat","tint":"#8b5a2b","collidable":true}]}
	]`)

	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Templates.Digest == "" {
		t.Error("empty digest")
	}
	if got := c.Templates.Palette; len(got) != 2 || got[0] != "bench" || got[1] != "brick" {
		t.Errorf("palette = %v", got)
	}

	def, ok := c.Resolve("bench")
	if !ok || !def.RequiresGround || len(def.Parts) != 1 {
		t.Fatalf("bench def = %+v ok=%v", def, ok)
	}
	if _, ok := c.Resolve("ghost"); ok {
		t.Error("unknown template resolved")
	}
}

func TestLoadRejectsBadCatalog(t *testing.T) {
	cases := map[string]string{
		"empty id":     `[{"id":"","bounding_size":[1,1,1]}]`,
		"duplicate id": `[{"id":"a","bounding_size":[1,1,1]},{"id":"a","bounding_size":[1,1,1]}]`,
		"zero size":    `[{"id":"a","bounding_size":[0,1,1]}]`,
	}
	for name, raw := range cases {
		if _, err := Load(writeItems(t, raw)); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}

func TestDigestChangesWithContent(t *testing.T) {
	a, err := Load(writeItems(t, `[{"id":"a","bounding_size":[1,1,1]}]`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(writeItems(t, `[{"id":"a","bounding_size":[2,1,1]}]`))
	if err != nil {
		t.Fatal(err)
	}
	if a.Templates.Digest == b.Templates.Digest {
		t.Error("digest identical for different catalogs")
	}
}
