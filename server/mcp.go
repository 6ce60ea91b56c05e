package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/keepcontext/mnemo/core"
	"github.com/keepcontext/mnemo/tools"
)

const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// contentBlock is a single MCP content item. Only text is produced.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// handleMCP serves the plain HTTP transport: one JSON-RPC message per
// POST. Notifications get an empty 202.
func (s *Server) handleMCP(c *fiber.Ctx) error {
	var req rpcRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.JSON(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
	}

	resp := s.dispatchRPC(c.Context(), identityFrom(c), &req)
	if resp == nil {
		return c.SendStatus(fiber.StatusAccepted)
	}
	return c.JSON(resp)
}

// dispatchRPC routes one JSON-RPC message. Returns nil for notifications.
func (s *Server) dispatchRPC(ctx context.Context, ident core.Identity, req *rpcRequest) *rpcResponse {
	if req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "missing method")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, fiber.Map{
			"protocolVersion": protocolVersion,
			"capabilities":    fiber.Map{"tools": fiber.Map{}},
			"serverInfo":      fiber.Map{"name": "mnemo", "version": "1.0.0"},
		})

	case "notifications/initialized":
		return nil

	case "ping":
		return resultResponse(req.ID, fiber.Map{})

	case "tools/list":
		return resultResponse(req.ID, fiber.Map{"tools": tools.Definitions()})

	case "tools/call":
		var params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "invalid tool call params")
		}
		if params.Arguments == nil {
			params.Arguments = map[string]interface{}{}
		}
		slog.Debug("tool call", "tool", params.Name, "user", ident.UserID, "auth", ident.Method)
		res := s.registry.Dispatch(ctx, ident, params.Name, params.Arguments)
		return resultResponse(req.ID, callResult{
			Content: []contentBlock{{Type: "text", Text: res.Text}},
			IsError: res.IsErr,
		})

	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func resultResponse(id json.RawMessage, result interface{}) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}
