package meta

import (
	"log/slog"

	"github.com/locushq/locus/internal/agent"
)

// pluginSupersedesCore maps a plugin tool name to the core stubs it makes
// redundant. When a plugin registers a real implementation for a logical
// capability, the placeholder stubs come out of the registry so the model
// only ever sees one tool per capability.
var pluginSupersedesCore = map[string][]string{
	"email_send":      {"send_email"},
	"email_list":      {"list_emails"},
	"calendar_create": {"create_event"},
	"web_search":      {"search_web"},
}

// ApplySupersessions removes core stubs superseded by the given plugin
// tools. Runs once at agent assembly, after plugin registration.
func ApplySupersessions(registry *agent.Registry, pluginTools []string, logger *slog.Logger) {
	for _, plugin := range pluginTools {
		for _, stub := range pluginSupersedesCore[plugin] {
			if registry.Unregister(stub) && logger != nil {
				logger.Debug("core stub superseded by plugin",
					"stub", stub,
					"plugin", plugin)
			}
		}
	}
}
