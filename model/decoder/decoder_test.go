package decoder

import (
	"testing"

	"github.com/hatlonely/schemax/model"
)

func assertUserModel(t *testing.T, defs []*model.ModelDefinition) {
	t.Helper()
	if len(defs) != 1 {
		t.Fatalf("expected 1 model, got %d", len(defs))
	}
	def := defs[0]
	if def.Name != "user" {
		t.Fatalf("expected model name user, got %q", def.Name)
	}
	if def.Module != "crm" {
		t.Fatalf("expected module crm, got %q", def.Module)
	}
	if len(def.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(def.Fields))
	}
	if def.Fields[0].Name != "name" || def.Fields[0].Kind != model.FieldKindString {
		t.Fatalf("unexpected first field: %+v", def.Fields[0])
	}
	if def.Fields[0].MaxLength != 32 || !def.Fields[0].Required {
		t.Fatalf("first field lost attributes: %+v", def.Fields[0])
	}
	if def.Fields[1].Name != "age" || def.Fields[1].Kind != model.FieldKindNumber {
		t.Fatalf("unexpected second field: %+v", def.Fields[1])
	}
}

func TestJsonDecoder(t *testing.T) {
	data := []byte(`{
  "models": [
    {
      "name": "user",
      "module": "crm",
      "fields": [
        {"name": "name", "kind": "string", "required": true, "maxLength": 32},
        {"name": "age", "kind": "number"}
      ]
    }
  ]
}`)

	defs, err := NewJsonDecoder().Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUserModel(t, defs)
}

func TestJsonDecoderSingleModel(t *testing.T) {
	data := []byte(`{"name": "user", "module": "crm", "fields": [
		{"name": "name", "kind": "string", "required": true, "maxLength": 32},
		{"name": "age", "kind": "number"}
	]}`)

	defs, err := NewJsonDecoder().Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUserModel(t, defs)
}

func TestYamlDecoder(t *testing.T) {
	data := []byte(`
models:
  - name: user
    module: crm
    fields:
      - name: name
        kind: string
        required: true
        maxLength: 32
      - name: age
        kind: number
`)

	defs, err := NewYamlDecoder().Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUserModel(t, defs)
}

func TestTomlDecoder(t *testing.T) {
	data := []byte(`
[[models]]
name = "user"
module = "crm"

[[models.fields]]
name = "name"
kind = "string"
required = true
maxLength = 32

[[models.fields]]
name = "age"
kind = "number"
`)

	defs, err := NewTomlDecoder().Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUserModel(t, defs)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	defs := []*model.ModelDefinition{
		{
			Name:   "user",
			Module: "crm",
			Fields: []model.FieldDefinition{
				{Name: "name", Kind: model.FieldKindString, Required: true, MaxLength: 32},
				{Name: "age", Kind: model.FieldKindNumber},
			},
		},
	}

	dec := NewJsonDecoder()
	data, err := dec.Encode(defs)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	restored, err := dec.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUserModel(t, restored)
}

func TestNewDecoderForFile(t *testing.T) {
	for _, path := range []string{"models.json", "models.yaml", "models.yml", "models.toml", "MODELS.JSON"} {
		if _, err := NewDecoderForFile(path); err != nil {
			t.Fatalf("expected decoder for %s, got error: %v", path, err)
		}
	}
	if _, err := NewDecoderForFile("models.ini"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}
