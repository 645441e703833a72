package responses

import "time"

type Category string

const (
	Career         Category = "career"
	Finances       Category = "finances"
	PersonalGrowth Category = "personal-growth"
	Confidence     Category = "confidence"
	Health         Category = "health"
	Relationships  Category = "relationships"
	Focus          Category = "focus"
)

// Flow is the fixed order of the intro questions.
var Flow = []Category{Career, Finances, PersonalGrowth, Confidence, Health, Relationships}

// RouteProcessing follows the last intro question.
const RouteProcessing = "/processing"

func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if c == Focus {
		return c, true
	}
	return c, c.stepIndex() >= 0
}

func (c Category) stepIndex() int {
	for i, f := range Flow {
		if f == c {
			return i
		}
	}
	return -1
}

// InFlow reports whether c is one of the intro questions.
func (c Category) InFlow() bool { return c.stepIndex() >= 0 }

// Route is the client page for the category.
func (c Category) Route() string { return "/" + string(c) }

// Next returns the route after c in the intro flow.
func (c Category) Next() string {
	i := c.stepIndex()
	if i < 0 || i == len(Flow)-1 {
		return RouteProcessing
	}
	return Flow[i+1].Route()
}

// Response is one stored answer. Several rows may exist per (user, category);
// the most recently updated one is current.
type Response struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Category  Category  `json:"category"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Answers holds the current response per category.
type Answers map[Category]Response
