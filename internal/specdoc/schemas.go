package specdoc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const requirementsSchema = `{
  "type": "object",
  "required": ["feature", "requirements"],
  "properties": {
    "feature": {"type": "string", "minLength": 1},
    "summary": {"type": "string"},
    "requirements": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "priority": {"enum": ["must", "should", "could"]}
        }
      }
    }
  }
}`

const researchSchema = `{
  "type": "object",
  "required": ["feature", "findings"],
  "properties": {
    "feature": {"type": "string", "minLength": 1},
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["topic", "summary"],
        "properties": {
          "topic": {"type": "string", "minLength": 1},
          "summary": {"type": "string", "minLength": 1},
          "references": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "openQuestions": {"type": "array", "items": {"type": "string"}}
  }
}`

const planSchema = `{
  "type": "object",
  "required": ["feature", "steps"],
  "properties": {
    "feature": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "detail": {"type": "string"},
          "requirementIds": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const tasksSchema = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "status"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "status": {"enum": ["pending", "in_progress", "done"]},
          "stepId": {"type": "string"},
          "dependsOn": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var schemaSources = map[Kind]string{
	KindRequirements: requirementsSchema,
	KindResearch:     researchSchema,
	KindPlan:         planSchema,
	KindTasks:        tasksSchema,
}

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[Kind]*jsonschema.Schema
)

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// schemaFor compiles the embedded schemas once and returns the schema for a
// kind. All schemas compile together so a broken one fails loudly on first
// use rather than on the phase that happens to need it.
func schemaFor(kind Kind) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiled := make(map[Kind]*jsonschema.Schema, len(schemaSources))
		for k, src := range schemaSources {
			s, err := compileSchema(string(k)+".schema.json", src)
			if err != nil {
				schemaErr = fmt.Errorf("compile %s schema: %w", k, err)
				return
			}
			compiled[k] = s
		}
		schemas = compiled
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema for artifact kind %q", kind)
	}
	return s, nil
}
