package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
	protoserver "github.com/viant/mcp-protocol/server"

	"synthia/internal/domain"
)

//go:embed tools/upload_fragment.md
var descUpload string

//go:embed tools/query_fragment.md
var descQuery string

//go:embed tools/calculate_contribution.md
var descContribution string

func registerTools(registry *protoserver.Registry, h *Handler) error {
	if err := protoserver.RegisterTool[*UploadInput, *UploadOutput](registry, "upload_fragment", descUpload, func(ctx context.Context, in *UploadInput) (*schema.CallToolResult, *jsonrpc.Error) {
		out, err := h.upload(ctx, in)
		if err != nil {
			return buildErrorResult(err)
		}
		return buildSuccessResult(out)
	}); err != nil {
		return err
	}

	if err := protoserver.RegisterTool[*QueryInput, *QueryOutput](registry, "query_fragment", descQuery, func(ctx context.Context, in *QueryInput) (*schema.CallToolResult, *jsonrpc.Error) {
		out, err := h.query(ctx, in)
		if err != nil {
			return buildErrorResult(err)
		}
		return buildSuccessResult(out)
	}); err != nil {
		return err
	}

	if err := protoserver.RegisterTool[*ContributionInput, *ContributionOutput](registry, "calculate_contribution", descContribution, func(ctx context.Context, in *ContributionInput) (*schema.CallToolResult, *jsonrpc.Error) {
		out, err := h.contribution(ctx, in)
		if err != nil {
			return buildErrorResult(err)
		}
		return buildSuccessResult(out)
	}); err != nil {
		return err
	}

	return nil
}

// buildErrorResult reports caller mistakes as invalid params and
// everything else as an internal error.
func buildErrorResult(err error) (*schema.CallToolResult, *jsonrpc.Error) {
	code := jsonrpc.InternalError
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
		code = jsonrpc.InvalidParams
	}
	return nil, jsonrpc.NewError(code, err.Error(), nil)
}

func buildSuccessResult(payload any) (*schema.CallToolResult, *jsonrpc.Error) {
	b, _ := json.Marshal(payload)
	return &schema.CallToolResult{
		Content: []schema.CallToolResultContentElem{
			schema.TextContent{Type: "text", Text: string(b)},
		},
		StructuredContent: map[string]any{"result": payload},
	}, nil
}

func (h *Handler) upload(ctx context.Context, in *UploadInput) (*UploadOutput, error) {
	if h == nil || h.service == nil {
		return nil, fmt.Errorf("mcp: service unavailable")
	}
	if in == nil {
		in = &UploadInput{}
	}
	id, err := h.service.Upload(ctx, in.Paragraph)
	if err != nil {
		return nil, err
	}
	return &UploadOutput{ID: id, Status: "success"}, nil
}

func (h *Handler) query(ctx context.Context, in *QueryInput) (*QueryOutput, error) {
	if h == nil || h.service == nil {
		return nil, fmt.Errorf("mcp: service unavailable")
	}
	if in == nil {
		in = &QueryInput{}
	}
	topK := in.TopK
	if topK == 0 {
		topK = h.defaultTopK
	}
	matches, err := h.service.Query(ctx, in.Prompt, topK)
	if err != nil {
		return nil, err
	}
	out := &QueryOutput{Namespace: h.service.Namespace(), Matches: make([]QueryMatch, 0, len(matches))}
	for _, m := range matches {
		out.Matches = append(out.Matches, QueryMatch{ID: m.ID, Score: m.Score, Text: m.Text, Source: m.Source})
	}
	return out, nil
}

func (h *Handler) contribution(ctx context.Context, in *ContributionInput) (*ContributionOutput, error) {
	start := time.Now()
	if h == nil || h.service == nil {
		return nil, fmt.Errorf("mcp: service unavailable")
	}
	if in == nil {
		in = &ContributionInput{}
	}
	scores, err := h.service.Score(ctx, in.Paper, in.FragmentList)
	if err != nil {
		return nil, err
	}
	log.Printf("mcp op=calculate_contribution fragments=%d dur=%s", len(scores), time.Since(start))
	return &ContributionOutput{Contributions: scores}, nil
}
