package ai

const (
	ChatModel          = "chat-model"
	ChatModelReasoning = "chat-model-reasoning"
	TitleModel         = "title-model"
)

const DefaultChatModel = ChatModel

type ChatModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var chatModels = []ChatModelInfo{
	{
		ID:          ChatModel,
		Name:        "Chat model",
		Description: "Primary model for all-purpose chat",
	},
	{
		ID:          ChatModelReasoning,
		Name:        "Reasoning model",
		Description: "Uses advanced reasoning",
	},
}

// ChatModels returns the user-selectable models in display order.
func ChatModels() []ChatModelInfo {
	out := make([]ChatModelInfo, len(chatModels))
	copy(out, chatModels)
	return out
}

// IsChatModel reports whether id names a user-selectable model.
func IsChatModel(id string) bool {
	for _, m := range chatModels {
		if m.ID == id {
			return true
		}
	}
	return false
}
