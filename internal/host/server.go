// Package host bridges the core to the editor over newline-delimited
// JSON-RPC on stdio.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/commands"
	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/panels"
	"github.com/brandon/mailview/internal/tree"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeNotFound       = -32004
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Server reads requests from in and writes responses and notifications to
// out. Requests are handled concurrently; writes are serialized.
type Server struct {
	logger  *logrus.Logger
	in      io.Reader
	version string

	commands *commands.Registry
	tree     *tree.Provider
	panels   *panels.Registry

	mu  sync.Mutex
	enc *json.Encoder

	reqMu    sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewServer creates a server. Bind must be called before Run.
func NewServer(in io.Reader, out io.Writer, version string, logger *logrus.Logger) *Server {
	return &Server{
		logger:  logger,
		in:      in,
		version: version,
		enc:     json.NewEncoder(out),
	}
}

// Bind attaches the components requests are dispatched to and forwards
// tree changes to the host
func (s *Server) Bind(cmds *commands.Registry, provider *tree.Provider, registry *panels.Registry) {
	s.commands = cmds
	s.tree = provider
	s.panels = registry

	provider.OnDidChange(func(node *tree.Node) {
		s.Notify("tree/changed", map[string]interface{}{"node": node})
	})
}

// Run serves until in is exhausted or ctx is done, then waits for
// in-flight requests
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting host bridge with stdio transport")
	defer s.wg.Wait()

	decoder := json.NewDecoder(s.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.logger.WithError(err).Error("Failed to decode request")
				s.write(response{JSONRPC: "2.0", ID: json.RawMessage("null"),
					Error: &rpcError{Code: codeParseError, Message: err.Error()}})
				return fmt.Errorf("malformed input: %w", err)
			}
			s.logger.WithError(err).Error("Failed to decode request")
			continue
		}

		if !s.track() {
			return nil
		}
		go func() {
			defer s.wg.Done()
			s.handle(ctx, req)
		}()
	}
}

func (s *Server) track() bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

// Drain stops accepting requests and waits for the ones in flight. Run
// may still be blocked reading input afterwards.
func (s *Server) Drain() {
	s.reqMu.Lock()
	s.draining = true
	s.reqMu.Unlock()
	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, req request) {
	result, rerr := s.dispatch(ctx, req)
	if len(req.ID) == 0 {
		return
	}
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rerr != nil {
		resp.Error = rerr
	} else {
		if result == nil {
			result = struct{}{}
		}
		resp.Result = result
	}
	s.write(resp)
}

func (s *Server) dispatch(ctx context.Context, req request) (interface{}, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"commands": map[string]interface{}{},
				"tree":     map[string]interface{}{},
				"panels":   map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailview",
				"version": s.version,
			},
		}, nil

	case "commands/list":
		return map[string]interface{}{"commands": s.commands.Definitions()}, nil

	case "commands/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		result, err := s.commands.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			s.ShowError(err)
			return nil, commandError(err)
		}
		return result, nil

	case "tree/children":
		var params struct {
			Node *tree.Node `json:"node"`
		}
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return map[string]interface{}{"nodes": s.tree.GetChildren(ctx, params.Node)}, nil

	case "tree/refresh":
		var params struct {
			Node           *tree.Node `json:"node"`
			ForceReconnect bool       `json:"force_reconnect"`
		}
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		s.tree.Refresh(ctx, params.Node, params.ForceReconnect)
		return nil, nil

	case "panel/disposed":
		var params struct {
			PanelID string `json:"panel_id"`
		}
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return map[string]interface{}{"disposed": s.panels.Closed(params.PanelID)}, nil
	}

	return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
}

func decodeParams(raw json.RawMessage, v interface{}) *rpcError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

func commandError(err error) *rpcError {
	switch email.KindOf(err) {
	case email.KindValidation:
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case email.KindNotFound:
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	}
	return &rpcError{Code: codeInternal, Message: err.Error()}
}

// Notify sends a notification to the host
func (s *Server) Notify(method string, params interface{}) {
	s.write(notification{JSONRPC: "2.0", Method: method, Params: params})
}

// ShowError asks the host to show err to the user
func (s *Server) ShowError(err error) {
	s.Notify("window/showError", map[string]interface{}{"message": err.Error()})
}

func (s *Server) write(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode message")
	}
}
