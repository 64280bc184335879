package cli

import (
	"encoding/json"
	"strings"
)

// SchemaCmd outputs JSON Schema for kbridge output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (session_start,session_end,status,variables,ready,error,kernel). Default: all"`
}

var schemaTypes = []string{"session_start", "session_end", "status", "variables", "ready", "error", "kernel"}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"session_start": sessionStartSchema(),
		"session_end":   sessionEndSchema(),
		"status":        statusSchema(),
		"variables":     variablesSchema(),
		"ready":         readySchema(),
		"error":         errorSchema(),
		"kernel":        kernelSchema(),
	}

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaTypes
	}

	output := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "kbridge Output Schemas",
		"description": "JSON Schema definitions for all kbridge NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := output["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func integer(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func constType(name string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "const": name}
}

var kernelStatusEnum = []string{"unknown", "starting", "idle", "busy", "restarting", "dead"}

func sessionStartSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session Start",
		"description": "Emitted when a kernel session becomes current (first connect, restart, kernel change)",
		"properties": map[string]interface{}{
			"type":          constType("session_start"),
			"schemaVersion": integer("Output schema version"),
			"alert": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"KERNEL_RESTARTED", "KERNEL_CHANGED"},
				"description": "Why the kernel changed; absent for the first session",
			},
			"session":            integer("Session number (1, 2, 3...)"),
			"kernel_id":          str("Kernel id of the new session"),
			"previous_kernel_id": str("Kernel replaced by this one"),
			"client_id":          str("Websocket client id"),
			"connection":         str("Kernel connection id"),
			"remote":             map[string]interface{}{"type": "boolean", "description": "Kernel runs on a remote server"},
			"timestamp":          map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "schemaVersion", "session", "kernel_id", "client_id", "connection", "remote", "timestamp"},
	}
}

func sessionEndSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session End",
		"description": "Emitted when a kernel session stops being current",
		"properties": map[string]interface{}{
			"type":          constType("session_end"),
			"schemaVersion": integer("Output schema version"),
			"session":       integer("Session number"),
			"kernel_id":     str("Kernel id of the ended session"),
			"summary": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status_changes":   integer("Status transitions seen"),
					"busy_periods":     integer("Times the kernel went busy"),
					"restarts":         integer("Restarting statuses seen"),
					"duration_seconds": integer("Session duration"),
				},
				"required": []string{"status_changes", "busy_periods", "restarts", "duration_seconds"},
			},
		},
		"required": []string{"type", "schemaVersion", "session", "kernel_id", "summary"},
	}
}

func statusSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Kernel Status",
		"description": "A kernel execution state transition",
		"properties": map[string]interface{}{
			"type":          constType("status"),
			"schemaVersion": integer("Output schema version"),
			"session":       integer("Session number"),
			"kernel_id":     str("Kernel id"),
			"status":        map[string]interface{}{"type": "string", "enum": kernelStatusEnum},
			"timestamp":     map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "schemaVersion", "session", "kernel_id", "status", "timestamp"},
	}
}

func variablesSchema() map[string]interface{} {
	variable := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":                 str("Variable name"),
			"type":                 str("Python type name"),
			"value":                str("Display value"),
			"size":                 integer("Size in bytes when known"),
			"shape":                str("Shape of array-like values"),
			"count":                integer("Length of sized values"),
			"truncated":            map[string]interface{}{"type": "boolean", "description": "Only the shallow DAP fields are filled"},
			"supportsDataExplorer": map[string]interface{}{"type": "boolean"},
			"frameId":              integer("Frame or reference the variable came from"),
		},
		"required": []string{"name", "type", "value", "truncated", "supportsDataExplorer"},
	}
	return map[string]interface{}{
		"type":        "object",
		"title":       "Variables",
		"description": "One page of the debugger variable snapshot, emitted on every refresh",
		"properties": map[string]interface{}{
			"type":           constType("variables"),
			"schemaVersion":  integer("Output schema version"),
			"refresh":        integer("Refresh sequence number"),
			"pageStartIndex": integer("Index of the first entry"),
			"pageResponse":   map[string]interface{}{"type": "array", "items": variable},
			"totalCount":     integer("Snapshot size before paging"),
			"executionCount": integer("Echoed from the request"),
			"refreshCount":   integer("Echoed from the request"),
		},
		"required": []string{"type", "schemaVersion", "refresh", "pageStartIndex", "pageResponse", "totalCount"},
	}
}

func readySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Ready",
		"description": "A long-running command is accepting work",
		"properties": map[string]interface{}{
			"type":          constType("ready"),
			"schemaVersion": integer("Output schema version"),
			"command":       str("Command name"),
			"listen":        str("Listen address (dap-proxy)"),
			"server":        str("Jupyter server URL (connect)"),
			"timestamp":     map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"type", "schemaVersion", "command", "timestamp"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Error",
		"description": "A failure with a stable code",
		"properties": map[string]interface{}{
			"type":          constType("error"),
			"schemaVersion": integer("Output schema version"),
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Error code such as IDLE_TIMEOUT, INVALID_KERNEL, DEPENDENCY_DECLINED",
			},
			"message": str("Human readable message"),
			"hint":    str("Suggested fix"),
		},
		"required": []string{"type", "schemaVersion", "code", "message"},
	}
}

func kernelSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Kernel",
		"description": "A kernel running on the server (kernels command)",
		"properties": map[string]interface{}{
			"type":            constType("kernel"),
			"schemaVersion":   integer("Output schema version"),
			"id":              str("Kernel id"),
			"name":            str("Kernelspec name"),
			"execution_state": str("Last reported execution state"),
			"last_activity":   map[string]interface{}{"type": "string", "format": "date-time"},
			"connections":     integer("Open client connections"),
		},
		"required": []string{"type", "schemaVersion", "id", "name", "connections"},
	}
}
