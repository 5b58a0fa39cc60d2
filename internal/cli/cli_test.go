package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"crowdnav/internal/bake"
	"crowdnav/internal/bakestore"
	"crowdnav/internal/navmesh/navmeshtest"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeBake(t *testing.T, name string, desc bake.Descriptor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := bake.SaveFile(path, desc); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func TestSchemaCommand(t *testing.T) {
	out, err := runCommand(t, "schema")
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("expected json schema, got %q: %v", out, err)
	}
	if schema["title"] != "Navigation Bake" {
		t.Fatalf("expected bake schema title, got %v", schema["title"])
	}
}

func TestConvertThenQueryPath(t *testing.T) {
	source := writeBake(t, "hourglass.hjson", navmeshtest.Hourglass(2))
	target := filepath.Join(t.TempDir(), "hourglass.msgpack")

	out, err := runCommand(t, "convert", source, target)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if !strings.Contains(out, "msgpack") {
		t.Fatalf("expected msgpack in convert output, got %q", out)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "narrow agent", args: []string{"--radius", "0.5"}},
		{name: "wide agent", args: []string{"--radius", "1.5"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"path", "--bake", target, "--from", "2,0,5", "--to", "28,0,5"}, tc.args...)
			out, err := runCommand(t, args...)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected no path, got %q", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("path failed: %v", err)
			}
			var result pathOutput
			if err := json.Unmarshal([]byte(out), &result); err != nil {
				t.Fatalf("decode path output %q: %v", out, err)
			}
			if result.SceneID != 3 || len(result.Waypoints) < 2 {
				t.Fatalf("unexpected path output %+v", result)
			}
			if result.Length < 26 {
				t.Fatalf("expected path at least as long as the straight line, got %f", result.Length)
			}
		})
	}
}

func TestPathArgumentErrors(t *testing.T) {
	bakeFile := writeBake(t, "square.json", navmeshtest.Square(10))
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "bad from", args: []string{"path", "--bake", bakeFile, "--from", "1,2", "--to", "1,0,1"}, want: "--from"},
		{name: "bad to", args: []string{"path", "--bake", bakeFile, "--from", "1,0,1", "--to", "a,b,c"}, want: "--to"},
		{name: "no bake", args: []string{"path", "--from", "1,0,1", "--to", "2,0,2"}, want: "no bake"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runCommand(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestImportAndListScenes(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bakes.db")
	bakeFile := writeBake(t, "square.json", navmeshtest.Square(10))

	out, err := runCommand(t, "import", bakeFile, "--dsn", dsn, "--scene", "12")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "imported scene 12") {
		t.Fatalf("unexpected import output %q", out)
	}

	out, err = runCommand(t, "scenes", "--dsn", dsn, "--json")
	if err != nil {
		t.Fatalf("scenes failed: %v", err)
	}
	var scenes []bakestore.SceneInfo
	if err := json.Unmarshal([]byte(out), &scenes); err != nil {
		t.Fatalf("decode scenes %q: %v", out, err)
	}
	if len(scenes) != 1 || scenes[0].SceneID != 12 || scenes[0].Triangles != 2 {
		t.Fatalf("expected scene 12 with 2 triangles, got %+v", scenes)
	}

	out, err = runCommand(t, "scenes", "--dsn", dsn)
	if err != nil {
		t.Fatalf("scenes table failed: %v", err)
	}
	if !strings.HasPrefix(out, "SCENE") || !strings.Contains(out, "12") {
		t.Fatalf("unexpected scenes table %q", out)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, 0 ,-2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v[0] != 1.5 || v[1] != 0 || v[2] != -2 {
		t.Fatalf("expected (1.5, 0, -2), got %v", v)
	}
}
