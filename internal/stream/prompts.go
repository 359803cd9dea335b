package stream

import (
	"encoding/json"
	"fmt"

	"github.com/callconnect/backend/internal/agent"
	"github.com/callconnect/backend/internal/callsession"
)

var purposeLabels = map[string]string{
	"new_appointment": "Book new appointment",
	"reschedule":      "Reschedule",
}

func buildOpeningMessages(p callsession.Params) []agent.Message {
	system := fmt.Sprintf(
		"You are an AI phone assistant making a call to book an appointment.\n"+
			"Generate the opening message for a call to %s.\n"+
			"Be polite, professional, and clearly state you're an AI calling on behalf of %s.\n"+
			"Keep it concise (2-3 sentences max). Speak naturally as if on a phone call.",
		p.ProviderName, p.UserName,
	)

	purpose := p.Purpose
	if label, ok := purposeLabels[purpose]; ok {
		purpose = label
	}
	user := fmt.Sprintf(
		"Generate opening for:\nService: %s\nPurpose: %s\nDetails: %s\nTime preference: %s",
		p.Service, purpose, orFallback(p.Details, "None"), orFallback(p.TimePreference, "Flexible"),
	)

	return []agent.Message{
		{Role: agent.RoleSystem, Content: system},
		{Role: agent.RoleUser, Content: user},
	}
}

func buildReplyMessages(p callsession.Params, history []callsession.Entry, lastHeard string) []agent.Message {
	system := fmt.Sprintf(
		"You are an AI phone assistant in a live phone conversation to book an appointment at %s.\n"+
			"Based on what the receptionist/staff said, generate an appropriate reply.\n"+
			"If they offered a time slot, confirm it and ask for confirmation details.\n"+
			"If they asked a question, answer it based on the context.\n"+
			"If they can't help, thank them politely.\n"+
			"Keep responses concise (1-2 sentences). Be natural and conversational.",
		p.ProviderName,
	)
	user := fmt.Sprintf(
		"The receptionist said: %q\n\nService requested: %s\nTime preference: %s\nAdditional context: %s\n\nWhat should you say next?",
		lastHeard, p.Service, orFallback(p.TimePreference, "Flexible"), orFallback(p.Details, "None"),
	)

	messages := make([]agent.Message, 0, len(history)+2)
	messages = append(messages, agent.Message{Role: agent.RoleSystem, Content: system})
	for _, e := range history {
		messages = append(messages, agent.Message{Role: string(e.Role), Content: e.Text})
	}
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: user})
	return messages
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
