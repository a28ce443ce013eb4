package ai

type UserType string

const (
	UserTypeGuest   UserType = "guest"
	UserTypeRegular UserType = "regular"
	UserTypePremium UserType = "premium"
)

type Entitlements struct {
	MaxMessagesPerDay     int      `json:"max_messages_per_day"`
	AvailableChatModelIDs []string `json:"available_chat_model_ids"`
}

var entitlementsByUserType = map[UserType]Entitlements{
	// Users without an account
	UserTypeGuest: {
		MaxMessagesPerDay:     30,
		AvailableChatModelIDs: []string{ChatModel, ChatModelReasoning},
	},
	// Users with an account
	UserTypeRegular: {
		MaxMessagesPerDay:     100,
		AvailableChatModelIDs: []string{ChatModel, ChatModelReasoning},
	},
	// Paying members
	UserTypePremium: {
		MaxMessagesPerDay:     200,
		AvailableChatModelIDs: []string{ChatModel, ChatModelReasoning},
	},
}

// EntitlementsFor falls back to guest limits for an unrecognized type.
func EntitlementsFor(t UserType) Entitlements {
	if e, ok := entitlementsByUserType[t]; ok {
		return e
	}
	return entitlementsByUserType[UserTypeGuest]
}

func (e Entitlements) AllowsModel(id string) bool {
	for _, m := range e.AvailableChatModelIDs {
		if m == id {
			return true
		}
	}
	return false
}
