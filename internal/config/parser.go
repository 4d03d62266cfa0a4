package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed flywheel.schema.json
var schemaJSON []byte

const schemaURL = "flywheel.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// LoadConfig reads and validates a configuration file. The format is
// picked from the extension: .yaml/.yml or .json.
func LoadConfig(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration bytes. filename only selects the
// format and labels errors.
func ParseConfig(data []byte, filename string) (*FileConfig, error) {
	doc, err := normalize(data, filename)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var cfg FileConfig
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize turns either format into JSON so schema validation and
// decoding follow a single path.
func normalize(data []byte, filename string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		var probe any
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
		}
		return data, nil
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .json)", filepath.Ext(filename))
	}
}

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

func validateSchema(doc []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err = s.Validate(v)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

// collectSchemaErrors flattens the cause tree into leaf errors.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(pointerToField(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns a JSON pointer (/target/url) into target.url.
func pointerToField(ptr string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}
