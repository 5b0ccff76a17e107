package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxLoggedArgLen = 200

var redactedArgKeywords = []string{"password", "secret", "token", "key", "credential"}

// MCPRequestLogger logs JSON-RPC tool calls flowing through the MCP endpoint:
// one debug line for the incoming call and one for the outcome, with tool name,
// sanitized arguments, and duration. A nil logger disables the middleware.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// Bodies that are not valid JSON-RPC still pass through; the
			// request is logged with whatever fields could be parsed.
			var call rpcCall
			if err := json.Unmarshal(body, &call); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			logger.Debug("MCP request",
				zap.String("method", call.Method),
				zap.String("tool", call.Params.Name),
				zap.Any("arguments", sanitizeArguments(call.Params.Arguments)),
			)

			rec := &rpcResponseCapture{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			var reply rpcReply
			if err := json.Unmarshal(rec.body.Bytes(), &reply); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				return
			}

			if reply.Error != nil {
				logger.Debug("MCP response error",
					zap.String("tool", call.Params.Name),
					zap.Int("error_code", reply.Error.Code),
					zap.String("error_message", reply.Error.Message),
					zap.Duration("duration", elapsed),
				)
				return
			}
			logger.Debug("MCP response success",
				zap.String("tool", call.Params.Name),
				zap.Duration("duration", elapsed),
			)
		})
	}
}

type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"params"`
}

type rpcReply struct {
	Result interface{} `json:"result"`
	Error  *rpcError   `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponseCapture tees the response body so the JSON-RPC outcome can be
// inspected after the handler runs.
type rpcResponseCapture struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (c *rpcResponseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// sanitizeArguments returns a copy of args safe to log: keys containing
// credential-like keywords are redacted and long string values are truncated.
func sanitizeArguments(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}

	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if sensitiveArgKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxLoggedArgLen {
			out[k] = s[:maxLoggedArgLen] + "..."
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveArgKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range redactedArgKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
