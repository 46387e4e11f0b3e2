package engine

// Config holds the loop limits of an agent.
type Config struct {
	MaxIterations  int     // provider round trips before the final summary call
	ContextWindow  int     // tokens the active model accepts per call
	BudgetFraction float64 // pause once last input tokens exceed this share of ContextWindow
}

// DefaultConfig returns the standard loop limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  40,
		ContextWindow:  128_000,
		BudgetFraction: 0.8,
	}
}

// DefaultChatMaxIterations bounds a single question in the query context.
const DefaultChatMaxIterations = 12

// budgetLimit is the input-token count above which a run pauses.
func (c Config) budgetLimit() int {
	return int(float64(c.ContextWindow) * c.BudgetFraction)
}
