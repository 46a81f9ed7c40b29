package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/memocache/internal/cache"
)

// CacheStatsHandler reports the counters of the backend behind m.
func CacheStatsHandler(m *cache.Manager) Handler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		st, err := m.Stats()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatStats(m.Prefix(), st)), nil
	}
}

// CacheClearHandler drops every entry in m's namespace. Other namespaces on a
// shared backend are left alone.
func CacheClearHandler(m *cache.Manager) Handler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		if err := m.Clear(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Cleared cache namespace %q.", m.Prefix())), nil
	}
}

func formatStats(namespace string, st cache.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cache namespace: %s\n", namespace)
	if st.Capacity > 0 {
		fmt.Fprintf(&sb, "Entries: %d / %d\n", st.Entries, st.Capacity)
	} else {
		fmt.Fprintf(&sb, "Entries: %d\n", st.Entries)
	}
	fmt.Fprintf(&sb, "Hits: %d\nMisses: %d\n", st.Hits, st.Misses)
	if lookups := st.Hits + st.Misses; lookups > 0 {
		fmt.Fprintf(&sb, "Hit ratio: %.1f%%\n", 100*float64(st.Hits)/float64(lookups))
	}
	fmt.Fprintf(&sb, "Sets: %d\nEvictions: %d\nExpirations: %d", st.Sets, st.Evictions, st.Expirations)
	return sb.String()
}
