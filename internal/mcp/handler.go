package mcp

import (
	"context"

	"github.com/viant/jsonrpc/transport"
	protoclient "github.com/viant/mcp-protocol/client"
	"github.com/viant/mcp-protocol/logger"
	protoserver "github.com/viant/mcp-protocol/server"

	"synthia/internal/domain"
)

type Handler struct {
	*protoserver.DefaultHandler
	service     domain.FragmentService
	defaultTopK int
}

// NewHandler returns the per-session handler factory that exposes the
// fragment tools over MCP.
func NewHandler(svc domain.FragmentService, defaultTopK int) protoserver.NewHandler {
	return func(_ context.Context, notifier transport.Notifier, logger logger.Logger, clientOperation protoclient.Operations) (protoserver.Handler, error) {
		base := protoserver.NewDefaultHandler(notifier, logger, clientOperation)
		h := &Handler{
			DefaultHandler: base,
			service:        svc,
			defaultTopK:    defaultTopK,
		}
		if err := registerTools(base.Registry, h); err != nil {
			return nil, err
		}
		return h, nil
	}
}
