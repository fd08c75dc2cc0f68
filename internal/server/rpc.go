package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/copyleftdev/cellfit/internal/errors"
)

// JSON-RPC 2.0 error codes. Codes above -32000 are reserved by the
// protocol; the fit specific ones sit just below.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeFitNotFound    = -32001
	codeFitFinished    = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type fitID struct {
	ID string `json:"fit_id"`
}

// handleJSONRPC serves fit.start, fit.status and fit.cancel
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "fit.start":
		var req FitRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.Start(req)
		}
	case "fit.status":
		var p fitID
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Status(p.ID)
		}
	case "fit.cancel":
		var p fitID
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Cancel(p.ID)
		}
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code, message := codeServerError, "Server error"
		switch apperrors.StatusOf(err) {
		case http.StatusBadRequest:
			code, message = codeInvalidParams, "Invalid params"
		case http.StatusNotFound:
			code, message = codeFitNotFound, "Fit not found"
		case http.StatusConflict:
			code, message = codeFitFinished, "Fit already finished"
		}
		s.respondWithError(w, code, message, request.ID, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: request.ID, Result: result})
}

// decodeParams accepts named params or a single element positional array
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apperrors.BadRequest("missing required parameters")
	}
	if raw[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil || len(positional) != 1 {
			return apperrors.BadRequest("expected a single parameter object")
		}
		raw = positional[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.BadRequest("invalid parameter format: %v", err)
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
		"data":    data,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}
