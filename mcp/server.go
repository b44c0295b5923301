/*
Package mcp serves the registered knowledge tools over the Model Context
Protocol.

The server speaks line-delimited JSON-RPC 2.0 on stdio and handles
initialize, ping, tools/list and tools/call. Tool calls run concurrently,
responses are written one line at a time.
*/
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/siherrmann/knowledge/core/dispatch"
)

const (
	ProtocolVersion = "2024-11-05"

	// MaxMessageSize bounds a single request line. Bulk imports carry up to
	// 1000 entries of 30000 characters each.
	MaxMessageSize = 64 * 1024 * 1024
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Dispatcher is the part of the tool dispatcher the server needs.
type Dispatcher interface {
	Tools() []*dispatch.Tool
	Dispatch(ctx context.Context, name string, args json.RawMessage) *dispatch.Result
}

// Server is the knowledge MCP server.
type Server struct {
	dispatcher Dispatcher
	name       string
	version    string
	log        *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
	wg  sync.WaitGroup
}

// NewServer creates a server announcing itself with name and version.
func NewServer(dispatcher Dispatcher, name string, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: dispatcher,
		name:       name,
		version:    version,
		log:        logger,
	}
}

// MCPRequest represents an incoming MCP JSON-RPC request. A request without
// an id is a notification and gets no response.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError represents an MCP error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Run serves requests from in until it is exhausted or ctx is done, then
// waits for the tool calls still running. Running calls are not cancelled
// by ctx, the caller bounds the wait.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.enc = json.NewEncoder(out)
	callCtx := context.WithoutCancel(ctx)
	defer s.wg.Wait()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped reading requests", "reason", context.Cause(ctx).Error())
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("error reading requests: %w", err)
					}
				default:
				}
				return nil
			}
			s.handleLine(callCtx, line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}

	var req MCPRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("invalid JSON-RPC message", "error", err.Error())
		s.send(&MCPResponse{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &MCPError{Code: CodeParseError, Message: "Parse error"},
		})
		return
	}

	if req.Method == "tools/call" && req.ID != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.respond(&req, s.handleToolsCall(ctx, &req))
		}()
		return
	}
	s.respond(&req, s.handleRequest(&req))
}

// handleRequest processes every method except tools/call.
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		// Notifications can't carry a result.
		return nil
	case "":
		return errorResponse(req, CodeInvalidRequest, "Invalid request")
	default:
		return errorResponse(req, CodeMethodNotFound, "Method not found")
	}
}

func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    s.name,
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	registered := s.dispatcher.Tools()
	tools := make([]toolDefinition, 0, len(registered))
	for _, tool := range registered {
		tools = append(tools, toolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"tools": tools},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req, CodeInvalidParams, "Invalid params: tool name is required")
	}

	result := s.dispatcher.Dispatch(ctx, params.Name, params.Arguments)
	return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) respond(req *MCPRequest, response *MCPResponse) {
	if req.ID == nil || response == nil {
		return
	}
	s.send(response)
}

func (s *Server) send(response *MCPResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(response); err != nil {
		s.log.Error("failed to write response", "error", err.Error())
	}
}

func errorResponse(req *MCPRequest, code int, message string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &MCPError{Code: code, Message: message},
	}
}
