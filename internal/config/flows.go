package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"storefront/internal/redirect"
)

// Flow is one checkout page: where shoppers return to, which marker key it
// uses, where its catalog lives and which provider redirects it.
type Flow struct {
	Name        string `yaml:"name"`
	ReturnPath  string `yaml:"return_path"`
	MarkerKey   string `yaml:"marker_key"`
	CatalogPath string `yaml:"catalog_path"`
	Schema      string `yaml:"schema"`
	Verify      bool   `yaml:"verify"`
}

type flowsFile struct {
	Flows []Flow `yaml:"flows"`
}

func DefaultFlows() []Flow {
	return []Flow{
		{
			Name:        "library",
			ReturnPath:  "/library",
			MarkerKey:   "pending_ebook_purchase",
			CatalogPath: "/api/ebooks",
			Schema:      "generic",
		},
		{
			Name:        "nutrition",
			ReturnPath:  "/nutrition",
			MarkerKey:   "pending_nutrition_plan",
			CatalogPath: "/api/nutrition-plans",
			Schema:      "razorpay",
		},
		{
			Name:        "confirmation",
			ReturnPath:  "/confirmation",
			MarkerKey:   "pending_confirmation_purchase",
			CatalogPath: "/api/products",
			Schema:      "any",
		},
	}
}

func LoadFlows(path string) ([]Flow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: flows file: %w", err)
	}
	return ParseFlows(b)
}

func ParseFlows(b []byte) ([]Flow, error) {
	var f flowsFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: flows file: %w", err)
	}
	for i := range f.Flows {
		if f.Flows[i].MarkerKey == "" {
			f.Flows[i].MarkerKey = "pending_" + f.Flows[i].Name + "_purchase"
		}
		if f.Flows[i].ReturnPath == "" {
			f.Flows[i].ReturnPath = "/" + f.Flows[i].Name
		}
	}
	if err := validateFlows(f.Flows); err != nil {
		return nil, err
	}
	return f.Flows, nil
}

func validateFlows(flows []Flow) error {
	if len(flows) == 0 {
		return fmt.Errorf("config: no flows configured")
	}
	names := make(map[string]bool, len(flows))
	keys := make(map[string]bool, len(flows))
	for _, f := range flows {
		if f.Name == "" {
			return fmt.Errorf("config: flow without name")
		}
		if names[f.Name] {
			return fmt.Errorf("config: duplicate flow %q", f.Name)
		}
		names[f.Name] = true
		if keys[f.MarkerKey] {
			return fmt.Errorf("config: flow %q reuses marker key %q", f.Name, f.MarkerKey)
		}
		keys[f.MarkerKey] = true
		if !strings.HasPrefix(f.ReturnPath, "/") {
			return fmt.Errorf("config: flow %q: return_path must start with /", f.Name)
		}
		if _, err := redirect.SchemaByName(f.Schema); err != nil {
			return fmt.Errorf("config: flow %q: %w", f.Name, err)
		}
	}
	return nil
}
