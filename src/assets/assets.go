// Package assets embeds the code and styles installed into a page context.
package assets

import (
	"embed"
	"fmt"
)

//go:embed files/*
var files embed.FS

type Kind int

const (
	Script Kind = iota + 1
	Stylesheet
)

// Role says what an asset provides. Hosts use it to decide what to do on
// install beyond injecting the content.
type Role int

const (
	RoleSelection Role = iota + 1
	RoleRasterizer
	RoleStyle
)

func (r Role) String() string {
	switch r {
	case RoleSelection:
		return "selection"
	case RoleRasterizer:
		return "rasterizer"
	case RoleStyle:
		return "style"
	default:
		return "unknown"
	}
}

type Asset struct {
	Name    string
	Kind    Kind
	Role    Role
	Content string
}

// Manifest returns the install sequence. Order matters: the rasterizer and
// stylesheet assume the selection script is present.
func Manifest() ([]Asset, error) {
	specs := []struct {
		name string
		kind Kind
		role Role
	}{
		{"selection.js", Script, RoleSelection},
		{"rasterize.js", Script, RoleRasterizer},
		{"selection.css", Stylesheet, RoleStyle},
	}

	out := make([]Asset, 0, len(specs))
	for _, s := range specs {
		data, err := files.ReadFile("files/" + s.name)
		if err != nil {
			return nil, fmt.Errorf("read asset %s: %w", s.name, err)
		}
		out = append(out, Asset{Name: s.name, Kind: s.kind, Role: s.role, Content: string(data)})
	}
	return out, nil
}
