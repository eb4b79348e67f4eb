package backends

import (
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// WebSearchToolName is the client-declared tool that maps to a provider's
// native search capability.
const WebSearchToolName = "WebSearch"

// agentTools are client-side tools that only make sense inside the calling
// agent's runtime; upstreams must never see them.
var agentTools = map[string]bool{
	"Task":           true,
	"dispatch_agent": true,
	"computer":       true,
	"browser":        true,
}

// StripCacheControl removes prompt-caching markers everywhere in the
// request. No upstream dialect accepts them.
func StripCacheControl(req *anthropic.MessagesRequest) {
	for mi := range req.Messages {
		blocks := req.Messages[mi].Content.Blocks
		for bi := range blocks {
			blocks[bi].CacheControl = nil
		}
	}
}

// FilterTools drops agent-runtime tools and pulls WebSearch out of the
// list, reporting whether it was declared so the adapter can enable the
// provider's native search instead.
func FilterTools(tools []anthropic.Tool) (kept []anthropic.Tool, hasWebSearch bool) {
	for _, t := range tools {
		if t.Name == WebSearchToolName {
			hasWebSearch = true
			continue
		}
		if agentTools[t.Name] {
			continue
		}
		kept = append(kept, t)
	}
	return kept, hasWebSearch
}

// StripWebSearchBlocks removes WebSearch tool_use blocks and their paired
// tool_result blocks from the conversation. Providers with native search
// reject references to a tool that was never declared to them.
func StripWebSearchBlocks(messages []anthropic.Message) []anthropic.Message {
	searchIDs := make(map[string]bool)
	for _, m := range messages {
		for _, b := range m.Content.Blocks {
			if b.IsToolUse() && b.Name == WebSearchToolName {
				searchIDs[b.ID] = true
			}
		}
	}
	if len(searchIDs) == 0 {
		return messages
	}

	out := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		kept := make([]anthropic.ContentBlock, 0, len(m.Content.Blocks))
		for _, b := range m.Content.Blocks {
			if b.IsToolUse() && searchIDs[b.ID] {
				continue
			}
			if b.IsToolResult() && searchIDs[b.ToolUseID] {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 && len(m.Content.Blocks) > 0 {
			// The whole turn was search plumbing; dropping it keeps the
			// user/assistant alternation intact more often than keeping an
			// empty turn.
			continue
		}
		m.Content.Blocks = kept
		out = append(out, m)
	}
	return out
}
