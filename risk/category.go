package risk

import "fmt"

// Category is one label of the closed crisis-conversation vocabulary.
type Category string

const (
	CategoryLovedOne    Category = "Presence of a loved one"
	CategoryPrevAttempt Category = "Previous attempt"
	CategorySelfCare    Category = "Ability to take care of oneself"
	CategoryHope        Category = "Ability to hope for change"
	CategoryOther       Category = "Other"
	CategoryPlanning    Category = "Suicidal planning"
	CategorySelfControl Category = "Ability to control oneself"
	CategoryConsumption Category = "Consumption"
)

type categoryInfo struct {
	level       Level
	description string
}

var categories = map[Category]categoryInfo{
	CategoryLovedOne: {Low, "Emotional pain rooted in loneliness or lack of connection. " +
		"The caller wants someone to talk to, lean on, or simply be there during hard times."},
	CategoryPrevAttempt: {High, "Prior suicide attempts and ambivalence about having survived. " +
		"Regret, fear and unresolved pain from the earlier attempt are still present."},
	CategorySelfCare: {Moderate, "Functional decline: lost interest in hobbies, neglected " +
		"responsibilities, struggling to keep basic routines."},
	CategoryHope: {Low, "Hopelessness and despair with a wish for things to improve. " +
		"The caller feels stuck, drained, or unable to see a way forward."},
	CategoryOther: {None, "Non-depressive or grounding content such as hobbies, nature, " +
		"learning or routines, or content unrelated to distress."},
	CategoryPlanning: {Critical, "Explicit thoughts, intentions or plans about suicide. " +
		"The most acute form of ideation and requires immediate attention."},
	CategorySelfControl: {Low, "Struggle with impulse control and emotional regulation: racing " +
		"thoughts, urges, or breakdowns the caller cannot manage."},
	CategoryConsumption: {Moderate, "Maladaptive coping through substance use such as alcohol, " +
		"used to numb or survive emotional turmoil."},
}

// Categories returns the vocabulary in a stable order.
func Categories() []Category {
	return []Category{
		CategoryLovedOne, CategoryPrevAttempt, CategorySelfCare, CategoryHope,
		CategoryOther, CategoryPlanning, CategorySelfControl, CategoryConsumption,
	}
}

// Valid reports whether c belongs to the vocabulary.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Level returns the risk level mapped to c. Unknown categories map to None.
func (c Category) Level() Level {
	return categories[c].level
}

// Description returns the clinical description of c.
func (c Category) Description() string {
	if info, ok := categories[c]; ok {
		return info.description
	}
	return "Unknown risk category"
}

// ParseCategory validates a classifier label.
func ParseCategory(label string) (Category, error) {
	c := Category(label)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, label)
	}
	return c, nil
}
