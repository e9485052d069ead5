package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldBool
	FieldFile
	FieldFileList
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Usage        string
	Fields       []Field
}

// Key is the registry key, "service action".
func (c Command) Key() string {
	return c.Service + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params. Repeated keys are joined with commas.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

// Add appends value to a list-valued key.
func (p Params) Add(key, value string) {
	key = strings.ToLower(key)
	if existing, ok := p[key]; ok && existing != "" {
		p[key] = existing + "," + value
		return
	}
	p[key] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p.Add(field.Name, value)
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs turns key=value tokens into Params. A token whose key is not a
// field of cmd is positional and fills the first required field still empty,
// so source text containing '=' survives.
func ParseArgs(cmd Command, tokens []string) (Params, error) {
	known := map[string]bool{}
	for _, field := range cmd.Fields {
		known[strings.ToLower(field.Name)] = true
		for _, alias := range field.Aliases {
			known[strings.ToLower(alias)] = true
		}
	}
	params := Params{}
	var positional []string
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) == 2 && known[strings.ToLower(strings.TrimSpace(parts[0]))] {
			params.Add(strings.TrimSpace(parts[0]), parts[1])
			continue
		}
		positional = append(positional, token)
	}
	for _, value := range positional {
		slot := ""
		for _, field := range cmd.Fields {
			if field.Required && params.Get(field.Name) == "" {
				slot = field.Name
				break
			}
		}
		if slot == "" {
			return nil, fmt.Errorf("unexpected argument: %s", value)
		}
		params.Set(slot, value)
	}
	return params, nil
}

func ParseBool(value string) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(value))
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
