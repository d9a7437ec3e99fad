// Package bedrock implements ai.Provider for Amazon Bedrock's ConverseStream
// API.
//
// Authentication is handled by the AWS SDK v2 credential chain:
//  1. AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY (+ optional AWS_SESSION_TOKEN)
//  2. AWS_PROFILE — named profile from ~/.aws/credentials
//  3. ~/.aws/credentials default profile
//  4. IAM instance roles / ECS task roles / IRSA
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdoc "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tern-dev/tern/pkg/ai"
)

// Provider is the Amazon Bedrock streaming provider.
type Provider struct {
	Region  string
	Profile string
}

func New(region, profile string) *Provider {
	return &Provider{Region: region, Profile: profile}
}

func (p *Provider) Name() string { return "bedrock" }

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(ctx context.Context, model string, req ai.Request) (<-chan ai.Chunk, func() error) {
	chunks := make(chan ai.Chunk, 64)
	var finalErr error
	done := make(chan struct{})

	go func() {
		defer close(chunks)
		defer close(done)
		finalErr = p.stream(ctx, model, req, chunks)
	}()

	return chunks, func() error {
		<-done
		return finalErr
	}
}

func (p *Provider) stream(ctx context.Context, model string, req ai.Request, chunks chan<- ai.Chunk) error {
	client, err := p.newClient(ctx)
	if err != nil {
		return fmt.Errorf("bedrock: build client: %w", err)
	}

	input, err := buildInput(model, req)
	if err != nil {
		return fmt.Errorf("bedrock: build input: %w", err)
	}

	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		return fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	emit := func(c ai.Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	finish := ai.FinishStop
	sawToolUse := false

	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if s, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				sawToolUse = true
				if !emit(ai.Chunk{
					Kind:  ai.ChunkToolCall,
					Index: int(aws.ToInt32(ev.Value.ContentBlockIndex)),
					ID:    aws.ToString(s.Value.ToolUseId),
					Name:  aws.ToString(s.Value.Name),
				}) {
					return ctx.Err()
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch d := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if !emit(ai.Chunk{Kind: ai.ChunkText, Delta: d.Value}) {
					return ctx.Err()
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if !emit(ai.Chunk{
					Kind:         ai.ChunkToolCall,
					Index:        int(aws.ToInt32(ev.Value.ContentBlockIndex)),
					ArgsFragment: aws.ToString(d.Value.Input),
				}) {
					return ctx.Err()
				}
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			finish = mapStopReason(ev.Value.StopReason)

		case *types.ConverseStreamOutputMemberMetadata:
			if u := ev.Value.Usage; u != nil {
				if !emit(ai.Chunk{Kind: ai.ChunkUsage, Usage: ai.Usage{
					InputTokens:  int(aws.ToInt32(u.InputTokens)),
					OutputTokens: int(aws.ToInt32(u.OutputTokens)),
				}}) {
					return ctx.Err()
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("bedrock: stream error: %w", err)
	}

	if sawToolUse && finish == ai.FinishStop {
		finish = ai.FinishToolUse
	}
	emit(ai.Chunk{Kind: ai.ChunkDone, FinishReason: finish})
	return ctx.Err()
}

// ---------------------------------------------------------------------------
// Client + input building
// ---------------------------------------------------------------------------

func (p *Provider) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if p.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(p.Region))
	}
	if p.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(p.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func buildInput(model string, req ai.Request) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}

	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	ic := &types.InferenceConfiguration{}
	if req.Options.MaxTokens > 0 {
		v := int32(req.Options.MaxTokens)
		ic.MaxTokens = &v
	}
	if req.Options.Temperature != 0 {
		v := float32(req.Options.Temperature)
		ic.Temperature = &v
	}
	input.InferenceConfig = ic

	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input.Messages = msgs

	if len(req.Tools) > 0 {
		toolList := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.Parameters, &schema)
			toolList = append(toolList, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: brdoc.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools:      toolList,
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
	}

	return input, nil
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

func convertMessages(msgs []ai.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range msgs {
		switch m.Role {
		case ai.RoleUser, ai.RoleSystem:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})

		case ai.RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if json.Unmarshal([]byte(tc.Arguments), &args) != nil {
					args = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     brdoc.NewLazyDocument(args),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case ai.RoleTool:
			block := &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
				},
			}
			// Bedrock requires consecutive tool results to share one user
			// message.
			if len(out) > 0 && out[len(out)-1].Role == types.ConversationRoleUser {
				if _, ok := out[len(out)-1].Content[0].(*types.ContentBlockMemberToolResult); ok {
					out[len(out)-1].Content = append(out[len(out)-1].Content, block)
					continue
				}
			}
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{block},
			})

		default:
			return nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func mapStopReason(r types.StopReason) ai.FinishReason {
	switch r {
	case types.StopReasonMaxTokens:
		return ai.FinishLength
	case types.StopReasonToolUse:
		return ai.FinishToolUse
	default:
		return ai.FinishStop
	}
}
