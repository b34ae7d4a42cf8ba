package core

// DefaultTaskConfigs are the built-in fallbacks used when the config service
// has no entry for a task type. Values mirror the network defaults.
var DefaultTaskConfigs = map[string]TaskConfig{
	"chat-llama-3-2-3b": {
		Task:        "chat-llama-3-2-3b",
		TaskType:    TaskTypeText,
		Endpoint:    "/chat/completions",
		Timeout:     30,
		IsStream:    true,
		Weight:      0.1,
		MaxCapacity: 576000,
		Enabled:     true,
	},
	"chat-llama-3-1-8b": {
		Task:        "chat-llama-3-1-8b",
		TaskType:    TaskTypeText,
		Endpoint:    "/chat/completions",
		Timeout:     30,
		IsStream:    true,
		Weight:      0.2,
		MaxCapacity: 576000,
		Enabled:     true,
	},
	"chat-llama-3-1-70b": {
		Task:        "chat-llama-3-1-70b",
		TaskType:    TaskTypeText,
		Endpoint:    "/chat/completions",
		Timeout:     45,
		IsStream:    true,
		Weight:      0.3,
		MaxCapacity: 576000,
		Enabled:     true,
	},
	"proteus-text-to-image": {
		Task:        "proteus-text-to-image",
		TaskType:    TaskTypeImage,
		Endpoint:    "/text-to-image",
		Timeout:     20,
		IsStream:    false,
		Weight:      0.1,
		MaxCapacity: 3600,
		Enabled:     true,
	},
	"dreamshaper-text-to-image": {
		Task:        "dreamshaper-text-to-image",
		TaskType:    TaskTypeImage,
		Endpoint:    "/text-to-image",
		Timeout:     20,
		IsStream:    false,
		Weight:      0.1,
		MaxCapacity: 3000,
		Enabled:     true,
	},
	"flux-schnell-text-to-image": {
		Task:        "flux-schnell-text-to-image",
		TaskType:    TaskTypeImage,
		Endpoint:    "/text-to-image",
		Timeout:     20,
		IsStream:    false,
		Weight:      0.15,
		MaxCapacity: 3000,
		Enabled:     true,
	},
	"avatar": {
		Task:        "avatar",
		TaskType:    TaskTypeImage,
		Endpoint:    "/avatar",
		Timeout:     60,
		IsStream:    false,
		Weight:      0.05,
		MaxCapacity: 1800,
		Enabled:     true,
	},
}

// DefaultTaskConfig looks up the built-in fallback for a task type.
func DefaultTaskConfig(task string) (TaskConfig, bool) {
	tc, ok := DefaultTaskConfigs[task]
	return tc, ok
}
