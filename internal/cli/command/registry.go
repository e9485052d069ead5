package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "compile",
			Action:       "run",
			Method:       http.MethodPost,
			PathTemplate: "/api/compile",
			Usage:        "compile run file=Main.java [file=Util.java] [root=src] [debug=true]",
			Fields: []Field{
				{Name: "file", Aliases: []string{"files"}, Prompt: "source file", Type: FieldFileList, Required: true},
				{Name: "root", Prompt: "source root", Type: FieldString},
				{Name: "debug", Prompt: "debug", Type: FieldBool},
			},
		},
		{
			Service:      "compile",
			Action:       "code",
			Method:       http.MethodPost,
			PathTemplate: "/api/compile",
			Usage:        `compile code "public class Main { ... }" [debug=true]`,
			Fields: []Field{
				{Name: "code", Aliases: []string{"source"}, Prompt: "code", Type: FieldString, Required: true},
				{Name: "debug", Prompt: "debug", Type: FieldBool},
			},
		},
		{
			Service:      "compile",
			Action:       "health",
			Method:       http.MethodGet,
			PathTemplate: "/api/health",
			Usage:        "compile health",
		},
		{
			Service:      "compile",
			Action:       "version",
			Method:       http.MethodGet,
			PathTemplate: "/api/version",
			Usage:        "compile version",
		},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Key()] = cmd
	}
	return registry
}

// Usages lists command usages in a stable order.
func Usages(registry map[string]Command) []string {
	out := make([]string, 0, len(registry))
	for _, cmd := range registry {
		out = append(out, cmd.Usage)
	}
	sort.Strings(out)
	return out
}

func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			return RequestSpec{}, fmt.Errorf("%s is required", field.Name)
		}
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.PathTemplate,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

type sourceFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type compilePayload struct {
	Code  string       `json:"code"`
	Files []sourceFile `json:"files,omitempty"`
	Debug bool         `json:"debug,omitempty"`
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "compile" {
		return nil, nil
	}
	debug, err := ParseBool(params.Get("debug"))
	if err != nil {
		return nil, fmt.Errorf("invalid debug: %w", err)
	}
	switch cmd.Action {
	case "code":
		return compilePayload{Code: params.Get("code"), Debug: debug}, nil
	case "run":
		files, err := readSourceFiles(ParseStringList(params.Get("file")), params.Get("root"))
		if err != nil {
			return nil, err
		}
		return compilePayload{Files: files, Debug: debug}, nil
	}
	return nil, nil
}

// readSourceFiles loads each path. Names are taken relative to root so
// package directories survive; without root only the base name is sent.
func readSourceFiles(paths []string, root string) ([]sourceFile, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}
	files := make([]sourceFile, 0, len(paths))
	for _, p := range paths {
		content, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(p)
		if root != "" {
			rel, err := filepath.Rel(root, p)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil, fmt.Errorf("file %s is outside root %s", p, root)
			}
			name = filepath.ToSlash(rel)
		}
		files = append(files, sourceFile{Name: name, Content: content})
	}
	return files, nil
}
