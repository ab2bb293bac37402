package core

import "github.com/moneymitra/backend/internal/store"

const maxSuggestions = 3

// SuggestedQuestions derives starter questions for an empty chat from the
// profile snapshot: occupation first, then the financial goal.
func SuggestedQuestions(p store.Profile) []string {
	var suggestions []string

	switch p.Occupation {
	case "Student":
		suggestions = append(suggestions,
			"How do I save pocket money effectively?",
			"What are the best student banking options?",
			"How can I build credit history as a student?",
		)
	case "Working Professional", "Early-career Professional":
		suggestions = append(suggestions,
			"How much should I save from my first salary?",
			"What is an emergency fund and why do I need one?",
			"Should I invest in stocks or mutual funds?",
		)
	case "Freelancer", "Self-Employed":
		suggestions = append(suggestions,
			"How can I save with irregular income?",
			"What are the best tax-saving options for freelancers?",
			"How do I plan finances without fixed income?",
		)
	case "Homemaker":
		suggestions = append(suggestions,
			"How can I manage household budget effectively?",
			"What are safe investment options for homemakers?",
			"How do I save for family emergencies?",
		)
	case "Retired":
		suggestions = append(suggestions,
			"How should I manage my retirement savings?",
			"What are low-risk investment options?",
			"How can I create passive income streams?",
		)
	default:
		suggestions = append(suggestions,
			"How do I create a monthly budget?",
			"What are the basics of personal finance?",
			"How much should I save each month?",
		)
	}

	switch p.Goal {
	case "save", "Save Money":
		suggestions = append(suggestions, "What are the best savings strategies for beginners?")
	case "debt", "Manage Debt":
		suggestions = append(suggestions, "How do I create a debt repayment plan?")
	case "learn", "Learn Basics":
		suggestions = append(suggestions, "What are the financial basics I should know?")
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}
