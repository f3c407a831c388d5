package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
)

// SchemaVersion is the current MCP tool schema version (semver).
const SchemaVersion = "1.0.0"

const schemaURI = "plangrid://schema"

type schemaResponse struct {
	SchemaVersion string        `json:"schema_version"`
	ServerVersion string        `json:"server_version"`
	Columns       []grid.Column `json:"columns"`
	PatchOps      []patch.Op    `json:"patch_ops"`
}

func (s *Server) registerSchemaResource() {
	s.mcpServer.Resource(schemaURI).
		Name(schemaURI).
		Description("Tool schema version, grid columns and patch kinds").
		MimeType("application/json").
		Handler(func(_ context.Context, _ string, _ map[string]string) (*mcplib.ResourceContent, error) {
			data, err := json.Marshal(schemaResponse{
				SchemaVersion: SchemaVersion,
				ServerVersion: Version,
				Columns:       grid.DefaultColumns(),
				PatchOps:      patch.AllOps(),
			})
			if err != nil {
				return nil, err
			}
			return &mcplib.ResourceContent{
				URI:      schemaURI,
				MimeType: "application/json",
				Text:     string(data),
			}, nil
		})
}
