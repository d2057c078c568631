package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://coopsim.io/schemas/"

var schemaByType = map[string]string{
	TypeHello:                   "hello.schema.json",
	TypeWelcome:                 "welcome.schema.json",
	TypeCastRequest:             "cast.schema.json",
	TypeNotifyCast:              "cast.schema.json",
	TypeInterruptRequest:        "interrupt.schema.json",
	TypeNotifyInterrupt:         "interrupt.schema.json",
	TypeAddTargetRequest:        "add_target.schema.json",
	TypeNotifyAddTarget:         "add_target.schema.json",
	TypeInventoryChangesRequest: "inventory_changes.schema.json",
	TypeNotifyInventoryChanges:  "inventory_changes.schema.json",
	TypeActivateRequest:         "activate.schema.json",
	TypeNotifyActivate:          "activate.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		schemas, schemasErr = compileSchemas()
	})
	return schemas, schemasErr
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	for _, e := range ents {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	byFile := map[string]*jsonschema.Schema{}
	out := make(map[string]*jsonschema.Schema, len(schemaByType))
	for typ, name := range schemaByType {
		s, ok := byFile[name]
		if !ok {
			s, err = c.Compile(schemaBaseURL + name)
			if err != nil {
				return nil, fmt.Errorf("compile %s: %w", name, err)
			}
			byFile[name] = s
		}
		out[typ] = s
	}
	return out, nil
}

// Validate checks raw against the schema registered for typ.
func Validate(typ string, raw []byte) error {
	set, err := compiledSchemas()
	if err != nil {
		return err
	}
	s, ok := set[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}
